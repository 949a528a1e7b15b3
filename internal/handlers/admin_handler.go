package handlers

import (
	"net/http"

	"parish-system/internal/services"
	"parish-system/models"
	"parish-system/security"

	"github.com/labstack/echo/v5"
)

type AdminHandler struct {
	reservations *services.ReservationService
	payments     *services.PaymentService
	sweeper      *services.Sweeper
}

func NewAdminHandler(reservations *services.ReservationService, payments *services.PaymentService, sweeper *services.Sweeper) *AdminHandler {
	return &AdminHandler{
		reservations: reservations,
		payments:     payments,
		sweeper:      sweeper,
	}
}

type publishScheduleRequest struct {
	Date  string   `json:"date" validate:"required,datetime=2006-01-02"`
	Times []string `json:"times" validate:"required,min=1,dive,required,max=20"`
}

// PublishSchedule - Open a date for mass bookings
func (h *AdminHandler) PublishSchedule(c echo.Context) error {
	var req publishScheduleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", err)
	}

	sched, err := h.reservations.PublishSchedule(c.Request().Context(), req.Date, req.Times)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusCreated, sched, "Schedule published")
}

type cashPaymentRequest struct {
	UserID      string            `json:"user_id" validate:"required"`
	ServiceType string            `json:"service_type" validate:"required,oneof=mass certificate"`
	ServiceID   string            `json:"service_id" validate:"required"`
	Amount      int64             `json:"amount" validate:"required,gt=0"`
	Description string            `json:"description" validate:"max=255"`
	Payer       *models.PayerInfo `json:"payer"`
}

// CashPayment - Record a payment taken at the parish office
func (h *AdminHandler) CashPayment(c echo.Context) error {
	var req cashPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", err)
	}

	p := services.CashPaymentParams{
		OperatorID:  security.OperatorID(c),
		UserID:      req.UserID,
		ServiceType: models.ServiceType(req.ServiceType),
		ServiceID:   req.ServiceID,
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.Payer != nil {
		p.Payer = *req.Payer
	}

	intent, err := h.payments.CreateCashPayment(c.Request().Context(), p)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusCreated, intent, "Cash payment recorded")
}

// Sweep - Run the expiration sweep now
func (h *AdminHandler) Sweep(c echo.Context) error {
	expired, err := h.sweeper.Sweep(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]any{"expired": expired}, "Sweep finished")
}

func (h *AdminHandler) MarkCertificateSent(c echo.Context) error {
	booking, err := h.reservations.MarkCertificateSent(c.Request().Context(), c.PathParam("id"))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, booking, "Certificate marked as sent")
}
