package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parish-system/internal/status"
	"parish-system/utils"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.mercadopago.com"

type client struct {
	baseURL     string
	accessToken string
	hc          *http.Client
	breaker     *utils.CircuitBreaker
}

func newClient(baseURL, accessToken string, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		hc:          &http.Client{Timeout: timeout},
		breaker:     utils.NewCircuitBreaker("mercadopago", 5, 30*time.Second),
	}
}

type (
	preferenceItem struct {
		ID          string      `json:"id"`
		Title       string      `json:"title"`
		Description string      `json:"description,omitempty"`
		Quantity    int         `json:"quantity"`
		UnitPrice   json.Number `json:"unit_price"`
		CurrencyID  string      `json:"currency_id"`
	}

	preferencePayer struct {
		Name           string          `json:"name,omitempty"`
		Surname        string          `json:"surname,omitempty"`
		Email          string          `json:"email,omitempty"`
		Phone          *payerPhone     `json:"phone,omitempty"`
		Identification *identification `json:"identification,omitempty"`
		Address        *payerAddress   `json:"address,omitempty"`
	}

	payerPhone struct {
		Number string `json:"number"`
	}

	identification struct {
		Type   string `json:"type"`
		Number string `json:"number"`
	}

	payerAddress struct {
		StreetName string `json:"street_name"`
	}

	backURLs struct {
		Success string `json:"success,omitempty"`
		Failure string `json:"failure,omitempty"`
		Pending string `json:"pending,omitempty"`
	}

	preferenceReq struct {
		Items             []preferenceItem  `json:"items"`
		Payer             preferencePayer   `json:"payer"`
		BackURLs          backURLs          `json:"back_urls"`
		AutoReturn        string            `json:"auto_return,omitempty"`
		ExternalReference string            `json:"external_reference"`
		NotificationURL   string            `json:"notification_url,omitempty"`
		Expires           bool              `json:"expires"`
		ExpirationDateTo  string            `json:"expiration_date_to,omitempty"`
		Metadata          map[string]string `json:"metadata,omitempty"`
	}

	preferenceReply struct {
		ID               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}

	paymentReply struct {
		ID                json.Number     `json:"id"`
		Status            string          `json:"status"`
		StatusDetail      string          `json:"status_detail"`
		ExternalReference string          `json:"external_reference"`
		TransactionAmount decimal.Decimal `json:"transaction_amount"`
		CurrencyID        string          `json:"currency_id"`
	}
)

// createPreference registers a checkout preference and returns its id and
// redirect URLs.
func (c *client) createPreference(ctx context.Context, p *preferenceReq) (*preferenceReply, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("createPreference: json.Marshal: %w", err)
	}

	var reply preferenceReply
	if _, err := c.do(ctx, http.MethodPost, "/checkout/preferences", b, &reply); err != nil {
		return nil, fmt.Errorf("createPreference: %w", err)
	}
	if reply.ID == "" {
		return nil, fmt.Errorf("createPreference: %w: empty preference id", status.ErrGatewayUnreachable)
	}
	return &reply, nil
}

// getPayment fetches the authoritative state of a payment. The raw body is
// returned alongside for auditing.
func (c *client) getPayment(ctx context.Context, id string) (*paymentReply, []byte, error) {
	var reply paymentReply
	raw, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &reply)
	if err != nil {
		return nil, nil, fmt.Errorf("getPayment: %w", err)
	}
	return &reply, raw, nil
}

// do maps transport failures, 5xx and 401 to ErrGatewayUnreachable and any
// other non-2xx answer to ErrGatewayUnverifiable.
func (c *client) do(ctx context.Context, method, path string, body []byte, out any) ([]byte, error) {
	if c.accessToken == "" {
		return nil, fmt.Errorf("%w: access token not configured", status.ErrGatewayUnreachable)
	}

	var raw []byte
	var rejected error
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("http.NewRequestWithContext: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("http.Do: %w", err)
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("io.ReadAll: %w", err)
		}

		switch {
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, raw)
		case resp.StatusCode >= 300:
			// the gateway answered; it just does not know this resource
			rejected = fmt.Errorf("%w: resp.StatusCode: %d, resp.Body: %s", status.ErrGatewayUnverifiable, resp.StatusCode, raw)
			return nil
		}
		return nil
	})
	if rejected != nil {
		return nil, rejected
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrGatewayUnreachable, err)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: json.Unmarshal: %v", status.ErrGatewayUnverifiable, err)
		}
	}
	return raw, nil
}
