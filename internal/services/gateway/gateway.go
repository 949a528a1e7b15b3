package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parish-system/models"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderEPayco      Provider = "epayco"
	ProviderMercadoPago Provider = "mercadopago"
)

// CheckoutRequest describes the payment a gateway should collect.
type CheckoutRequest struct {
	ReferenceCode string
	Amount        int64
	Currency      string
	Description   string
	Payer         models.PayerInfo
	ServiceType   models.ServiceType
	ServiceID     string
	UserID        string
	ExpiresAt     time.Time
}

// Checkout is what the client needs to continue on the gateway.
type Checkout struct {
	Provider      Provider       `json:"provider"`
	RedirectURL   string         `json:"redirect_url,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// WebhookRequest is an inbound gateway call as received over HTTP.
type WebhookRequest struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Notification is a verified statement from the gateway about one payment.
type Notification struct {
	Provider         Provider
	ReferenceCode    string
	GatewayPaymentID string
	GatewayStatus    string
	Status           models.PaymentStatus
	Amount           int64 // zero when the gateway did not report one
	Currency         string
	Raw              json.RawMessage
}

type Gateway interface {
	Provider() Provider

	// CreateCheckout starts a checkout for an already persisted intent.
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*Checkout, error)

	// Resolve authenticates a webhook, by signature or by fetching the
	// payment from the gateway, and returns what it says. Errors wrap
	// status.ErrGatewayUnverifiable, status.ErrGatewayUnreachable or
	// status.ErrIgnoredEvent.
	Resolve(ctx context.Context, req *WebhookRequest) (*Notification, error)
}

// MapStatus translates a gateway status through vocab. Anything the
// vocabulary does not know is a failure.
func MapStatus(vocab map[string]models.PaymentStatus, raw string) models.PaymentStatus {
	if s, ok := vocab[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return models.PaymentFailed
}

// MinorUnits rounds a gateway amount to the integer amount stored locally.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
