package handlers

import (
	"io"
	"net/http"

	"parish-system/internal/services"
	"parish-system/internal/services/gateway"
	"parish-system/models"
	"parish-system/security"

	"github.com/labstack/echo/v5"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	payments   *services.PaymentService
	reconciler *services.Reconciler
}

func NewPaymentHandler(payments *services.PaymentService, reconciler *services.Reconciler) *PaymentHandler {
	return &PaymentHandler{
		payments:   payments,
		reconciler: reconciler,
	}
}

type createPaymentRequest struct {
	ServiceType string `json:"service_type" validate:"required,oneof=mass certificate"`
	ServiceID   string `json:"service_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=255"`
	Phone       string `json:"phone" validate:"required"`
	Address     string `json:"address" validate:"required"`
	Provider    string `json:"provider" validate:"omitempty,oneof=epayco mercadopago"`
}

// CreatePayment - Start a gateway payment for a booking request
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req createPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", err)
	}

	res, err := h.payments.CreateIntent(c.Request().Context(), services.CreateIntentParams{
		UserID:      security.UserID(c),
		ServiceType: models.ServiceType(req.ServiceType),
		ServiceID:   req.ServiceID,
		Amount:      req.Amount,
		Description: req.Description,
		Phone:       req.Phone,
		Address:     req.Address,
		Provider:    gateway.Provider(req.Provider),
	})
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusCreated, res, "Payment created")
}

func (h *PaymentHandler) History(c echo.Context) error {
	intents, err := h.payments.History(c.Request().Context(), security.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, intents, "")
}

func (h *PaymentHandler) Status(c echo.Context) error {
	intent, err := h.payments.Status(c.Request().Context(), security.UserID(c), c.PathParam("reference"))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, intent, "")
}

// Webhook - Gateway notification endpoint. Always answers 200 so the
// gateway stops redelivering; the outcome is informational.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		body = nil
	}

	outcome := h.reconciler.HandleWebhook(c.Request().Context(), gateway.Provider(c.PathParam("provider")), &gateway.WebhookRequest{
		Header: c.Request().Header,
		Query:  c.Request().URL.Query(),
		Body:   body,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"received": true,
		"outcome":  outcome,
	})
}
