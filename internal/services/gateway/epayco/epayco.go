package epayco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"parish-system/internal/services/gateway"
	"parish-system/internal/status"
	"parish-system/models"

	"github.com/shopspring/decimal"
)

type Config struct {
	PublicKey       string
	PKey            string // signing key shared with ePayco
	CustomerID      string
	Test            bool
	ResponseURL     string
	ConfirmationURL string
}

// x_cod_response values
var statusVocab = map[string]models.PaymentStatus{
	"1":  models.PaymentApproved,
	"2":  models.PaymentRejected,
	"3":  models.PaymentPending,
	"7":  models.PaymentPending, // held for review
	"8":  models.PaymentPending, // started
	"11": models.PaymentRejected,
	"12": models.PaymentRejected, // antifraud
}

// EPayco is a push gateway: checkout runs client side and the confirmation
// webhook is trusted only after its signature checks out.
type EPayco struct {
	cfg Config
}

func New(cfg Config) *EPayco {
	return &EPayco{cfg: cfg}
}

func (e *EPayco) Provider() gateway.Provider {
	return gateway.ProviderEPayco
}

func (e *EPayco) CreateCheckout(_ context.Context, req *gateway.CheckoutRequest) (*gateway.Checkout, error) {
	if e.cfg.PublicKey == "" {
		return nil, fmt.Errorf("%w: epayco public key not configured", status.ErrGatewayUnreachable)
	}

	payer := req.Payer
	payload := map[string]any{
		"key":                 e.cfg.PublicKey,
		"test":                e.cfg.Test,
		"external":            "false",
		"name":                req.Description,
		"description":         req.Description,
		"invoice":             req.ReferenceCode,
		"currency":            strings.ToLower(req.Currency),
		"amount":              decimal.NewFromInt(req.Amount).StringFixed(0),
		"tax_base":            "0",
		"tax":                 "0",
		"country":             "co",
		"lang":                "es",
		"response":            e.cfg.ResponseURL,
		"confirmation":        e.cfg.ConfirmationURL,
		"name_billing":        strings.TrimSpace(payer.Name + " " + payer.LastName),
		"address_billing":     payer.Address,
		"type_doc_billing":    strings.ToLower(payer.DocumentType),
		"number_doc_billing":  payer.DocumentNumber,
		"mobilephone_billing": payer.Phone,
		"email_billing":       payer.Email,
		"extra1":              string(req.ServiceType),
		"extra2":              req.ServiceID,
		"extra3":              req.UserID,
	}

	return &gateway.Checkout{
		Provider:      gateway.ProviderEPayco,
		CorrelationID: req.ReferenceCode,
		Payload:       payload,
	}, nil
}

func (e *EPayco) Resolve(_ context.Context, req *gateway.WebhookRequest) (*gateway.Notification, error) {
	fields, err := parseFields(req)
	if err != nil {
		return nil, fmt.Errorf("%w: epayco: %v", status.ErrGatewayUnverifiable, err)
	}

	if err := e.verify(fields); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(fields.Get("x_amount"))
	if err != nil {
		return nil, fmt.Errorf("%w: epayco: x_amount %q", status.ErrGatewayUnverifiable, fields.Get("x_amount"))
	}

	code := fields.Get("x_cod_response")
	if code == "" {
		code = fields.Get("x_cod_transaction_state")
	}

	raw, _ := json.Marshal(flatten(fields))
	return &gateway.Notification{
		Provider:         gateway.ProviderEPayco,
		ReferenceCode:    fields.Get("x_id_invoice"),
		GatewayPaymentID: fields.Get("x_ref_payco"),
		GatewayStatus:    code,
		Status:           gateway.MapStatus(statusVocab, code),
		Amount:           gateway.MinorUnits(amount),
		Currency:         fields.Get("x_currency_code"),
		Raw:              raw,
	}, nil
}

func (e *EPayco) verify(fields url.Values) error {
	if e.cfg.PKey == "" || e.cfg.CustomerID == "" {
		return fmt.Errorf("%w: epayco: signing key not configured", status.ErrGatewayUnverifiable)
	}
	if fields.Get("x_cust_id_cliente") != e.cfg.CustomerID {
		return fmt.Errorf("%w: epayco: customer id mismatch", status.ErrGatewayUnverifiable)
	}
	if !VerifySignature(e.cfg.CustomerID, e.cfg.PKey, fields) {
		return fmt.Errorf("%w: epayco: bad signature for %s", status.ErrGatewayUnverifiable, fields.Get("x_ref_payco"))
	}
	return nil
}

// parseFields accepts the confirmation as a form body, a JSON body, or
// query parameters.
func parseFields(req *gateway.WebhookRequest) (url.Values, error) {
	fields := url.Values{}
	for k, v := range req.Query {
		fields[k] = v
	}

	body := strings.TrimSpace(string(req.Body))
	switch {
	case body == "":
	case strings.HasPrefix(body, "{"):
		// numbers keep their literal form, the signature covers x_amount as sent
		var m map[string]any
		dec := json.NewDecoder(bytes.NewReader(req.Body))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		for k, v := range m {
			switch t := v.(type) {
			case string:
				fields.Set(k, t)
			case json.Number:
				fields.Set(k, t.String())
			case nil:
			default:
				fields.Set(k, fmt.Sprint(t))
			}
		}
	default:
		form, err := url.ParseQuery(body)
		if err != nil {
			return nil, fmt.Errorf("decode form body: %w", err)
		}
		for k, v := range form {
			fields[k] = v
		}
	}

	if fields.Get("x_ref_payco") == "" {
		return nil, fmt.Errorf("missing x_ref_payco")
	}
	return fields, nil
}

func flatten(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}
