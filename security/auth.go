package security

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"parish-system/internal/status"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	ContextUserID     = "user_id"
	ContextRole       = "role"
	ContextOperatorID = "operator_id"

	HeaderOperatorKey = "X-Operator-Key"
	HeaderOperatorID  = "X-Operator-ID"
)

type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator checks user bearer tokens and the parish office key.
type Authenticator struct {
	secret          []byte
	operatorKeyHash []byte
}

func NewAuthenticator(jwtSecret, operatorKeyHash string) *Authenticator {
	return &Authenticator{
		secret:          []byte(jwtSecret),
		operatorKeyHash: []byte(operatorKeyHash),
	}
}

// IssueToken signs an HS256 token for userID.
func (a *Authenticator) IssueToken(userID, role, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) ParseToken(tokenStr string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: token auth not configured", status.ErrUnauthorized)
	}
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrUnauthorized, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", status.ErrUnauthorized)
	}
	return c, nil
}

// JWTAuth requires a bearer token and stores its subject as user_id.
func (a *Authenticator) JWTAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenStr, found := strings.CutPrefix(header, "Bearer ")
			if !found || tokenStr == "" {
				return deny(c, http.StatusUnauthorized, "Missing bearer token")
			}

			claims, err := a.ParseToken(tokenStr)
			if err != nil {
				return deny(c, http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(ContextUserID, claims.Subject)
			c.Set(ContextRole, claims.Role)
			return next(c)
		}
	}
}

// OperatorAuth guards office routes with the bcrypt-hashed operator key.
func (a *Authenticator) OperatorAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderOperatorKey)
			if key == "" {
				return deny(c, http.StatusUnauthorized, "Missing operator key")
			}
			if err := a.VerifyOperatorKey(key); err != nil {
				return deny(c, http.StatusForbidden, "Access denied")
			}

			operator := strings.TrimSpace(c.Request().Header.Get(HeaderOperatorID))
			if operator == "" {
				operator = "office"
			}
			c.Set(ContextOperatorID, operator)
			return next(c)
		}
	}
}

func (a *Authenticator) VerifyOperatorKey(key string) error {
	if len(a.operatorKeyHash) == 0 {
		return fmt.Errorf("%w: operator key not configured", status.ErrForbidden)
	}
	err := bcrypt.CompareHashAndPassword(a.operatorKeyHash, []byte(key))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return status.ErrForbidden
	}
	return err
}

// UserID returns the authenticated user, or "" outside JWTAuth.
func UserID(c echo.Context) string {
	id, _ := c.Get(ContextUserID).(string)
	return id
}

func OperatorID(c echo.Context) string {
	id, _ := c.Get(ContextOperatorID).(string)
	return id
}

func deny(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]any{
		"success": false,
		"message": message,
	})
}
