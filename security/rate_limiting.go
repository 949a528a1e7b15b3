package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per key in fixed one-minute windows.
type RateLimiter struct {
	redis  redis.Cmdable
	window time.Duration
}

func NewRateLimiter(redisClient redis.Cmdable) *RateLimiter {
	return &RateLimiter{redis: redisClient, window: time.Minute}
}

// Allow reports whether key is still under limit in the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

// Limit throttles a route group by user when authenticated, by IP otherwise.
// Redis errors let the request through.
func (r *RateLimiter) Limit(scope string, limit int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limit <= 0 {
				return next(c)
			}

			id := c.RealIP()
			if userID := UserID(c); userID != "" {
				id = "user:" + userID
			}
			key := fmt.Sprintf("rate:%s:%s", scope, id)

			ok, err := r.Allow(c.Request().Context(), key, limit)
			if err != nil {
				slog.Warn("Rate limiter unavailable", "scope", scope, "error", err)
				return next(c)
			}
			if !ok {
				return deny(c, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			}
			return next(c)
		}
	}
}

// AntiBotMiddleware rejects crawlers on the user-facing API.
func (r *RateLimiter) AntiBotMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isSuspiciousUserAgent(c.Request().Header.Get("User-Agent")) {
				return deny(c, http.StatusForbidden, "Access denied")
			}
			return next(c)
		}
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
