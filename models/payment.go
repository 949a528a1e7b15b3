package models

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentFailed   PaymentStatus = "failed"
	PaymentExpired  PaymentStatus = "expired"
)

func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

type PaymentMethod string

const (
	MethodGateway   PaymentMethod = "gateway"
	MethodCashAdmin PaymentMethod = "cash_admin"
)

type PayerInfo struct {
	Name           string `json:"name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

type PaymentIntent struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	ServiceType          ServiceType     `json:"service_type"`
	ServiceID            string          `json:"service_id"`
	Amount               int64           `json:"amount"`
	Currency             string          `json:"currency"`
	ReferenceCode        string          `json:"reference_code"`
	Description          string          `json:"description"`
	Method               PaymentMethod   `json:"method"`
	Provider             string          `json:"provider,omitempty"`
	Status               PaymentStatus   `json:"status"`
	Payer                PayerInfo       `json:"payer"`
	CreatedAt            time.Time       `json:"created_at"`
	ExpiresAt            *time.Time      `json:"expires_at,omitempty"`
	ConfirmedAt          *time.Time      `json:"confirmed_at,omitempty"`
	ExpiredAt            *time.Time      `json:"expired_at,omitempty"`
	GatewayCorrelationID string          `json:"gateway_correlation_id,omitempty"`
	GatewayPaymentID     string          `json:"gateway_payment_id,omitempty"`
	GatewayStatus        string          `json:"gateway_status,omitempty"`
	GatewayPayload       json.RawMessage `json:"gateway_payload,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Live reports whether the intent blocks a new attempt for its service item.
func (p *PaymentIntent) Live(now time.Time) bool {
	switch p.Status {
	case PaymentApproved:
		return true
	case PaymentPending:
		return p.ExpiresAt == nil || !p.ExpiresAt.Before(now)
	}
	return false
}

// RemainingTTL is zero for intents without expiry or already past it.
func (p *PaymentIntent) RemainingTTL(now time.Time) time.Duration {
	if p.ExpiresAt == nil || p.Status != PaymentPending {
		return 0
	}
	if d := p.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// PaymentEvent is one audited gateway notification.
type PaymentEvent struct {
	ID               string          `json:"id"`
	IntentID         string          `json:"intent_id,omitempty"`
	Provider         string          `json:"provider"`
	ReferenceCode    string          `json:"reference_code,omitempty"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	GatewayStatus    string          `json:"gateway_status,omitempty"`
	Outcome          string          `json:"outcome"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ReceivedAt       time.Time       `json:"received_at"`
}
