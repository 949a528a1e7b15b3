package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"parish-system/internal/services/gateway"
	"parish-system/internal/status"
	"parish-system/models"

	"github.com/shopspring/decimal"
)

type Config struct {
	AccessToken     string
	WebhookSecret   string // optional, enables x-signature checks
	BaseURL         string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	Timeout         time.Duration
}

var statusVocab = map[string]models.PaymentStatus{
	"approved":   models.PaymentApproved,
	"pending":    models.PaymentPending,
	"in_process": models.PaymentPending,
	"authorized": models.PaymentPending,
	"rejected":   models.PaymentRejected,
	"cancelled":  models.PaymentRejected,
}

// MercadoPago is a pull gateway: webhooks only name a payment id, the
// payment itself is always fetched from the API before it is trusted.
type MercadoPago struct {
	cfg    Config
	client *client
}

func New(cfg Config) *MercadoPago {
	return &MercadoPago{
		cfg:    cfg,
		client: newClient(cfg.BaseURL, cfg.AccessToken, cfg.Timeout),
	}
}

func (m *MercadoPago) Provider() gateway.Provider {
	return gateway.ProviderMercadoPago
}

func (m *MercadoPago) CreateCheckout(ctx context.Context, req *gateway.CheckoutRequest) (*gateway.Checkout, error) {
	payer := preferencePayer{
		Name:    req.Payer.Name,
		Surname: req.Payer.LastName,
		Email:   req.Payer.Email,
	}
	if req.Payer.Phone != "" {
		payer.Phone = &payerPhone{Number: req.Payer.Phone}
	}
	if req.Payer.DocumentNumber != "" {
		payer.Identification = &identification{Type: req.Payer.DocumentType, Number: req.Payer.DocumentNumber}
	}
	if req.Payer.Address != "" {
		payer.Address = &payerAddress{StreetName: req.Payer.Address}
	}

	pref := &preferenceReq{
		Items: []preferenceItem{{
			ID:          req.ServiceID,
			Title:       req.Description,
			Description: req.Description,
			Quantity:    1,
			UnitPrice:   json.Number(decimal.NewFromInt(req.Amount).String()),
			CurrencyID:  req.Currency,
		}},
		Payer: payer,
		BackURLs: backURLs{
			Success: m.cfg.SuccessURL,
			Failure: m.cfg.FailureURL,
			Pending: m.cfg.PendingURL,
		},
		ExternalReference: req.ReferenceCode,
		NotificationURL:   m.cfg.NotificationURL,
		Metadata: map[string]string{
			"service_type": string(req.ServiceType),
			"service_id":   req.ServiceID,
			"user_id":      req.UserID,
		},
	}
	if m.cfg.SuccessURL != "" {
		pref.AutoReturn = "approved"
	}
	if !req.ExpiresAt.IsZero() {
		pref.Expires = true
		pref.ExpirationDateTo = req.ExpiresAt.Format("2006-01-02T15:04:05.000-07:00")
	}

	reply, err := m.client.createPreference(ctx, pref)
	if err != nil {
		return nil, err
	}

	return &gateway.Checkout{
		Provider:      gateway.ProviderMercadoPago,
		RedirectURL:   reply.InitPoint,
		CorrelationID: reply.ID,
		Payload: map[string]any{
			"preference_id":      reply.ID,
			"init_point":         reply.InitPoint,
			"sandbox_init_point": reply.SandboxInitPoint,
		},
	}, nil
}

// webhookBody covers both the v2 webhook and the legacy IPN shapes.
type webhookBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID flexID `json:"id"`
	} `json:"data"`
	Resource string `json:"resource"`
}

// flexID accepts ids sent as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(strings.Trim(string(b), `"`))
	return nil
}

func (m *MercadoPago) Resolve(ctx context.Context, req *gateway.WebhookRequest) (*gateway.Notification, error) {
	topic := firstNonEmpty(req.Query.Get("type"), req.Query.Get("topic"))
	id := firstNonEmpty(req.Query.Get("data.id"), req.Query.Get("id"))

	if len(bytes.TrimSpace(req.Body)) > 0 {
		var body webhookBody
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: mercadopago: decode body: %v", status.ErrGatewayUnverifiable, err)
		}
		if topic == "" {
			topic = firstNonEmpty(body.Type, body.Topic, strings.SplitN(body.Action, ".", 2)[0])
		}
		if id == "" {
			id = firstNonEmpty(string(body.Data.ID), lastSegment(body.Resource))
		}
	}

	if topic != "payment" {
		return nil, fmt.Errorf("%w: mercadopago topic %q", status.ErrIgnoredEvent, topic)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: mercadopago: missing payment id", status.ErrGatewayUnverifiable)
	}

	if m.cfg.WebhookSecret != "" {
		if err := VerifySignature(m.cfg.WebhookSecret, req.Header.Get("x-signature"), req.Header.Get("x-request-id"), id); err != nil {
			return nil, err
		}
	}

	payment, raw, err := m.client.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	return &gateway.Notification{
		Provider:         gateway.ProviderMercadoPago,
		ReferenceCode:    payment.ExternalReference,
		GatewayPaymentID: payment.ID.String(),
		GatewayStatus:    payment.Status,
		Status:           gateway.MapStatus(statusVocab, payment.Status),
		Amount:           gateway.MinorUnits(payment.TransactionAmount),
		Currency:         payment.CurrencyID,
		Raw:              raw,
	}, nil
}

// VerifySignature checks an x-signature header of the form ts=...,v1=...
// against the manifest id:<id>;request-id:<request id>;ts:<ts>;
func VerifySignature(secret, header, requestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: mercadopago: malformed x-signature", status.ErrGatewayUnverifiable)
	}

	want := SignManifest(secret, requestID, dataID, ts)
	if !hmac.Equal([]byte(strings.ToLower(v1)), []byte(want)) {
		return fmt.Errorf("%w: mercadopago: bad signature for payment %s", status.ErrGatewayUnverifiable, dataID)
	}
	return nil
}

func SignManifest(secret, requestID, dataID, ts string) string {
	var manifest strings.Builder
	if dataID != "" {
		manifest.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func lastSegment(resource string) string {
	resource = strings.TrimRight(resource, "/")
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}
