package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"parish-system/internal/services"
	"parish-system/security"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Reservations *services.ReservationService
	Payments     *services.PaymentService
	Reconciler   *services.Reconciler
	Sweeper      *services.Sweeper
	Auth         *security.Authenticator
	Limiter      *security.RateLimiter // nil disables rate limiting
	Health       map[string]HealthCheck
	Logger       *slog.Logger

	APIRateLimit     int
	WebhookRateLimit int
}

func NewRouter(d Dependencies) *echo.Echo {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(RequestID())
	e.Use(StructuredLogger(d.Logger))

	booking := NewBookingHandler(d.Reservations)
	payment := NewPaymentHandler(d.Payments, d.Reconciler)
	admin := NewAdminHandler(d.Reservations, d.Payments, d.Sweeper)

	e.GET("/health", health(d.Health))

	api := e.Group("/api/v1")
	api.GET("/schedules/:date/slots", booking.ListSlots)

	webhookLimit := limit(d.Limiter, "webhook", d.WebhookRateLimit)
	api.POST("/payments/webhooks/:provider", payment.Webhook, webhookLimit...)

	user := api.Group("", append([]echo.MiddlewareFunc{d.Auth.JWTAuth()}, limit(d.Limiter, "api", d.APIRateLimit)...)...)
	if d.Limiter != nil {
		user.Use(d.Limiter.AntiBotMiddleware())
	}
	user.POST("/bookings/mass", booking.ReserveMass)
	user.POST("/bookings/certificates", booking.RequestCertificate)
	user.GET("/bookings", booking.ListBookings)
	user.GET("/bookings/:id", booking.GetBooking)
	user.POST("/payments", payment.CreatePayment)
	user.GET("/payments/history", payment.History)
	user.GET("/payments/status/:reference", payment.Status)

	ops := api.Group("/admin", d.Auth.OperatorAuth())
	ops.POST("/schedules", admin.PublishSchedule)
	ops.POST("/payments/cash", admin.CashPayment)
	ops.POST("/payments/sweep", admin.Sweep)
	ops.POST("/certificates/:id/sent", admin.MarkCertificateSent)

	return e
}

func limit(l *security.RateLimiter, scope string, perMinute int) []echo.MiddlewareFunc {
	if l == nil || perMinute <= 0 {
		return nil
	}
	return []echo.MiddlewareFunc{l.Limit(scope, perMinute)}
}

func health(checks map[string]HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		results := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(c.Request().Context()); err != nil {
				results[name] = err.Error()
				healthy = false
				continue
			}
			results[name] = "ok"
		}

		if !healthy {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"checks": results,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status": "healthy",
			"checks": results,
		})
	}
}
