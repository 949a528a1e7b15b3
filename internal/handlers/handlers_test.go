package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parish-system/internal/services"
	"parish-system/internal/services/gateway"
	"parish-system/internal/testutil"
	"parish-system/models"
	"parish-system/security"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testDate    = "2030-05-05"
	operatorKey = "office-key-123"
)

type testServer struct {
	e    *echo.Echo
	auth *security.Authenticator
	gw   *testutil.FakeGateway
}

func setupRouter(t *testing.T, health map[string]HealthCheck) *testServer {
	t.Helper()

	st := testutil.NewStore(t)
	testutil.SeedUser(t, st, "u1")
	testutil.SeedUser(t, st, "u2")

	gw := testutil.NewFakeGateway(gateway.ProviderEPayco)
	registry := gateway.NewRegistry()
	registry.Register(gw)

	notifier := &testutil.RecordingNotifier{}
	sweeper := services.NewSweeper(st, nil, notifier, nil, services.SweeperConfig{})
	reservations := services.NewReservationService(st, nil, 10*time.Minute)
	payments := services.NewPaymentService(st, st, sweeper, registry, notifier, nil, services.PaymentConfig{
		TTL:       10 * time.Minute,
		MinAmount: 5000,
		Currency:  "COP",
	})
	reconciler := services.NewReconciler(st, registry, notifier, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(operatorKey), bcrypt.MinCost)
	require.NoError(t, err)
	auth := security.NewAuthenticator("test-secret", string(hash))

	e := NewRouter(Dependencies{
		Reservations: reservations,
		Payments:     payments,
		Reconciler:   reconciler,
		Sweeper:      sweeper,
		Auth:         auth,
		Health:       health,
	})
	return &testServer{e: e, auth: auth, gw: gw}
}

type response struct {
	Code    int            `json:"-"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error"`
	Raw     string         `json:"-"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) response {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	res := response{Code: rec.Code, Raw: rec.Body.String()}
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	return res
}

func (s *testServer) user(t *testing.T, id string) map[string]string {
	t.Helper()
	token, err := s.auth.IssueToken(id, "parishioner", id+"@example.com", time.Hour)
	require.NoError(t, err)
	return map[string]string{echo.HeaderAuthorization: "Bearer " + token}
}

func operator() map[string]string {
	return map[string]string{security.HeaderOperatorKey: operatorKey, security.HeaderOperatorID: "secretary"}
}

func (s *testServer) publish(t *testing.T) {
	t.Helper()
	res := s.do(t, http.MethodPost, "/api/v1/admin/schedules",
		map[string]any{"date": testDate, "times": []string{"08:00", "10:00"}}, operator())
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)
}

func webhook(t *testing.T, reference string, st models.PaymentStatus) []byte {
	t.Helper()
	return testutil.Webhook(t, reference, st, 50000).Body
}

func TestHealth(t *testing.T) {
	s := setupRouter(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	res := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Raw, `"healthy"`)

	s = setupRouter(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	res = s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Contains(t, res.Raw, "connection refused")
}

func TestMassBookingFlow(t *testing.T) {
	s := setupRouter(t, nil)
	s.publish(t)

	res := s.do(t, http.MethodGet, "/api/v1/schedules/"+testDate+"/slots", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Data["slots"], 2)

	reserve := map[string]any{"date": testDate, "time": "10:00", "intention": "For the Gomez family"}
	res = s.do(t, http.MethodPost, "/api/v1/bookings/mass", reserve, s.user(t, "u1"))
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)
	bookingID := res.Data["booking_request_id"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/bookings/mass", reserve, s.user(t, "u1"))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, res.Data["resumed"])

	res = s.do(t, http.MethodPost, "/api/v1/bookings/mass", reserve, s.user(t, "u2"))
	assert.Equal(t, http.StatusConflict, res.Code)

	pay := map[string]any{
		"service_type": "mass",
		"service_id":   bookingID,
		"amount":       50000,
		"phone":        "300 123 4567",
		"address":      "Calle 10 # 20-30, Bogota",
	}
	res = s.do(t, http.MethodPost, "/api/v1/payments", pay, s.user(t, "u1"))
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)
	payment := res.Data["payment"].(map[string]any)
	reference := payment["reference_code"].(string)
	assert.Equal(t, "pending", payment["status"])
	assert.NotEmpty(t, res.Data["checkout"].(map[string]any)["redirect_url"])

	res = s.do(t, http.MethodPost, "/api/v1/payments", pay, s.user(t, "u1"))
	require.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, reference, res.Data["payment"].(map[string]any)["reference_code"])
	assert.Greater(t, res.Data["expires_in_seconds"].(float64), float64(0))

	res = s.do(t, http.MethodPost, "/api/v1/payments/webhooks/epayco", string(webhook(t, reference, models.PaymentApproved)), nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"applied"}`, res.Raw)

	res = s.do(t, http.MethodPost, "/api/v1/payments/webhooks/epayco", string(webhook(t, reference, models.PaymentApproved)), nil)
	assert.JSONEq(t, `{"received":true,"outcome":"duplicate"}`, res.Raw)

	res = s.do(t, http.MethodGet, "/api/v1/payments/status/"+reference, nil, s.user(t, "u1"))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "approved", res.Data["status"])

	res = s.do(t, http.MethodGet, "/api/v1/payments/status/"+reference, nil, s.user(t, "u2"))
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(t, http.MethodGet, "/api/v1/bookings/"+bookingID, nil, s.user(t, "u1"))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "confirmed", res.Data["status"])

	res = s.do(t, http.MethodPost, "/api/v1/payments", pay, s.user(t, "u1"))
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "Service already finalized", res.Message)
}

func TestHistory(t *testing.T) {
	s := setupRouter(t, nil)
	s.publish(t)

	res := s.do(t, http.MethodPost, "/api/v1/bookings/certificates", map[string]any{"type": "baptism"}, s.user(t, "u2"))
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)
	certID := res.Data["id"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/payments", map[string]any{
		"service_type": "certificate",
		"service_id":   certID,
		"amount":       20000,
		"phone":        "3001234567",
		"address":      "Carrera 7 # 12-45",
	}, s.user(t, "u2"))
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/history", nil)
	for k, v := range s.user(t, "u2") {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []models.PaymentIntent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, models.ServiceCertificate, body.Data[0].ServiceType)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	for k, v := range s.user(t, "u2") {
		req.Header.Set(k, v)
	}
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var bookings struct {
		Data []models.BookingRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bookings))
	require.Len(t, bookings.Data, 1)
	assert.Equal(t, certID, bookings.Data[0].ID)
}

func TestRequestValidation(t *testing.T) {
	s := setupRouter(t, nil)
	s.publish(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		want    int
	}{
		{"no token", http.MethodPost, "/api/v1/bookings/mass", map[string]any{"date": testDate, "time": "10:00"}, nil, http.StatusUnauthorized},
		{"malformed json", http.MethodPost, "/api/v1/bookings/mass", `{"date":`, s.user(t, "u1"), http.StatusBadRequest},
		{"bad date", http.MethodPost, "/api/v1/bookings/mass", map[string]any{"date": "05/05/2030", "time": "10:00"}, s.user(t, "u1"), http.StatusBadRequest},
		{"unpublished date", http.MethodPost, "/api/v1/bookings/mass", map[string]any{"date": "2031-01-01", "time": "10:00"}, s.user(t, "u1"), http.StatusNotFound},
		{"unknown certificate", http.MethodPost, "/api/v1/bookings/certificates", map[string]any{"type": "diploma"}, s.user(t, "u1"), http.StatusBadRequest},
		{"amount too low", http.MethodPost, "/api/v1/payments", map[string]any{"service_type": "mass", "service_id": "x", "amount": 100, "phone": "3001234567", "address": "Carrera 7 # 12-45"}, s.user(t, "u1"), http.StatusBadRequest},
		{"unknown service", http.MethodPost, "/api/v1/payments", map[string]any{"service_type": "mass", "service_id": "x", "amount": 50000, "phone": "3001234567", "address": "Carrera 7 # 12-45"}, s.user(t, "u1"), http.StatusNotFound},
		{"missing contact", http.MethodPost, "/api/v1/payments", map[string]any{"service_type": "mass", "service_id": "x", "amount": 50000}, s.user(t, "u1"), http.StatusBadRequest},
		{"unknown slots date", http.MethodGet, "/api/v1/schedules/2031-01-01/slots", nil, nil, http.StatusNotFound},
		{"admin without key", http.MethodPost, "/api/v1/admin/payments/sweep", nil, nil, http.StatusUnauthorized},
		{"admin wrong key", http.MethodPost, "/api/v1/admin/payments/sweep", nil, map[string]string{security.HeaderOperatorKey: "nope"}, http.StatusForbidden},
		{"duplicate schedule", http.MethodPost, "/api/v1/admin/schedules", map[string]any{"date": testDate, "times": []string{"12:00"}}, operator(), http.StatusConflict},
		{"empty schedule", http.MethodPost, "/api/v1/admin/schedules", map[string]any{"date": "2030-06-01", "times": []string{}}, operator(), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.do(t, tt.method, tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.want, res.Code, res.Raw)
			assert.False(t, res.Success)
		})
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	s := setupRouter(t, nil)

	tests := []struct {
		name    string
		path    string
		body    string
		outcome string
	}{
		{"unknown provider", "/api/v1/payments/webhooks/paypal", `{}`, "ignored"},
		{"unknown reference", "/api/v1/payments/webhooks/epayco", string(webhook(t, "PAR404", models.PaymentApproved)), "unknown_reference"},
		{"garbage body", "/api/v1/payments/webhooks/epayco", `not json`, "unverified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusOK, res.Code)
			assert.JSONEq(t, `{"received":true,"outcome":"`+tt.outcome+`"}`, res.Raw)
		})
	}
}

func TestAdminCashAndCertificate(t *testing.T) {
	s := setupRouter(t, nil)

	res := s.do(t, http.MethodPost, "/api/v1/bookings/certificates", map[string]any{"type": "marriage"}, s.user(t, "u1"))
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)
	certID := res.Data["id"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/admin/certificates/"+certID+"/sent", nil, operator())
	assert.Equal(t, http.StatusBadRequest, res.Code, "unpaid certificate")

	res = s.do(t, http.MethodPost, "/api/v1/admin/payments/cash", map[string]any{
		"user_id":      "u1",
		"service_type": "certificate",
		"service_id":   certID,
		"amount":       15000,
		"payer":        map[string]any{"phone": "3109876543"},
	}, operator())
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)
	assert.Equal(t, "approved", res.Data["status"])
	assert.Equal(t, "cash_admin", res.Data["method"])
	assert.Empty(t, s.gw.Checkouts())

	res = s.do(t, http.MethodPost, "/api/v1/admin/certificates/"+certID+"/sent", nil, operator())
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	assert.Equal(t, "sent", res.Data["status"])

	res = s.do(t, http.MethodPost, "/api/v1/admin/payments/sweep", nil, operator())
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(0), res.Data["expired"])
}

func TestGatewayFailureMapsToBadGateway(t *testing.T) {
	s := setupRouter(t, nil)
	s.publish(t)

	res := s.do(t, http.MethodPost, "/api/v1/bookings/mass", map[string]any{"date": testDate, "time": "08:00"}, s.user(t, "u1"))
	require.Equal(t, http.StatusCreated, res.Code, res.Raw)

	s.gw.CheckoutErr = errors.New("timeout")
	res = s.do(t, http.MethodPost, "/api/v1/payments", map[string]any{
		"service_type": "mass",
		"service_id":   res.Data["booking_request_id"],
		"amount":       50000,
		"phone":        "3001234567",
		"address":      "Carrera 7 # 12-45",
	}, s.user(t, "u1"))
	assert.Equal(t, http.StatusBadGateway, res.Code, res.Raw)
}
