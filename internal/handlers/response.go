package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"parish-system/internal/services"
	"parish-system/internal/status"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v5"
)

var validate = validator.New()

type ApiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func success(c echo.Context, code int, data any, message string) error {
	return c.JSON(code, ApiResponse{Success: true, Data: data, Message: message})
}

func fail(c echo.Context, code int, message string, err error) error {
	res := ApiResponse{Success: false, Message: message}
	if err != nil {
		res.Error = err.Error()
	}
	return c.JSON(code, res)
}

// bindAndValidate decodes the JSON body into req and checks its tags.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return validate.Struct(req)
}

// respondError maps service errors onto HTTP status codes.
func respondError(c echo.Context, err error) error {
	var dup *services.DuplicateIntentError
	if errors.As(err, &dup) {
		return c.JSON(http.StatusConflict, ApiResponse{
			Success: false,
			Message: "A payment for this service is already in progress",
			Error:   err.Error(),
			Data: map[string]any{
				"payment":            dup.Existing,
				"expires_in_seconds": int64(dup.RemainingTTL.Seconds()),
			},
		})
	}

	switch {
	case errors.Is(err, status.ErrSlotUnavailable):
		return fail(c, http.StatusConflict, "Slot unavailable", err)
	case errors.Is(err, status.ErrServiceAlreadyFinalized):
		return fail(c, http.StatusConflict, "Service already finalized", err)
	case errors.Is(err, status.ErrDuplicateIntent):
		return fail(c, http.StatusConflict, "Duplicate payment", err)
	case errors.Is(err, status.ErrScheduleExists):
		return fail(c, http.StatusConflict, "Schedule already published", err)
	case errors.Is(err, status.ErrScheduleNotFound),
		errors.Is(err, status.ErrServiceNotFound),
		errors.Is(err, status.ErrBookingNotFound),
		errors.Is(err, status.ErrPaymentNotFound):
		return fail(c, http.StatusNotFound, "Not found", err)
	case errors.Is(err, status.ErrInvalidAmount),
		errors.Is(err, status.ErrInvalidContact),
		errors.Is(err, status.ErrInvalidBooking),
		errors.Is(err, status.ErrUnknownProvider):
		return fail(c, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, status.ErrGatewayUnreachable),
		errors.Is(err, status.ErrGatewayUnverifiable):
		return fail(c, http.StatusBadGateway, "Payment gateway unavailable", err)
	case errors.Is(err, status.ErrUnauthorized):
		return fail(c, http.StatusUnauthorized, "Unauthorized", nil)
	case errors.Is(err, status.ErrForbidden):
		return fail(c, http.StatusForbidden, "Access denied", nil)
	}

	slog.Error("Request failed",
		"request_id", c.Get(contextRequestID),
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"error", err,
	)
	return fail(c, http.StatusInternalServerError, "Internal server error", nil)
}
