package handlers

import (
	"net/http"

	"parish-system/internal/services"
	"parish-system/models"
	"parish-system/security"

	"github.com/labstack/echo/v5"
)

type BookingHandler struct {
	reservations *services.ReservationService
}

func NewBookingHandler(reservations *services.ReservationService) *BookingHandler {
	return &BookingHandler{reservations: reservations}
}

// ListSlots - Get the slots of a published date
func (h *BookingHandler) ListSlots(c echo.Context) error {
	slots, err := h.reservations.Slots(c.Request().Context(), c.PathParam("date"))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]any{
		"date":  c.PathParam("date"),
		"slots": slots,
	}, "")
}

type reserveMassRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,max=20"`
	Intention string `json:"intention" validate:"max=500"`
}

// ReserveMass - Hold a mass slot for the authenticated user
func (h *BookingHandler) ReserveMass(c echo.Context) error {
	var req reserveMassRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", err)
	}

	res, err := h.reservations.Reserve(c.Request().Context(), services.ReserveParams{
		Date:        req.Date,
		Time:        req.Time,
		RequesterID: security.UserID(c),
		Intention:   req.Intention,
	})
	if err != nil {
		return respondError(c, err)
	}

	code := http.StatusCreated
	if res.Resumed {
		code = http.StatusOK
	}
	return success(c, code, res, "Slot reserved")
}

type certificateRequest struct {
	Type string `json:"type" validate:"required,oneof=baptism confirmation marriage death"`
}

// RequestCertificate - Open a certificate request awaiting payment
func (h *BookingHandler) RequestCertificate(c echo.Context) error {
	var req certificateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", err)
	}

	booking, err := h.reservations.RequestCertificate(c.Request().Context(),
		security.UserID(c), models.CertificateType(req.Type))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusCreated, booking, "Certificate requested")
}

func (h *BookingHandler) ListBookings(c echo.Context) error {
	bookings, err := h.reservations.Bookings(c.Request().Context(), security.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, bookings, "")
}

func (h *BookingHandler) GetBooking(c echo.Context) error {
	booking, err := h.reservations.Booking(c.Request().Context(), c.PathParam("id"), security.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, booking, "")
}
