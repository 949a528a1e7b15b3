package handlers

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

const contextRequestID = "request_id"

// RequestID reuses the caller's X-Request-ID or assigns a new one.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Set(contextRequestID, requestID)
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(c)
		}
	}
}

// StructuredLogger logs one line per request.
func StructuredLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			path := c.Request().URL.Path
			if raw := c.Request().URL.RawQuery; raw != "" {
				path = path + "?" + raw
			}

			err := next(c)

			logger.Info("HTTP Request",
				"request_id", c.Get(contextRequestID),
				"method", c.Request().Method,
				"path", path,
				"status", c.Response().Status,
				"latency", time.Since(start),
				"client_ip", c.RealIP(),
			)
			return err
		}
	}
}
