package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/akave-ai/devlog/internal/response"
)

const userIDKey = "auth.user_id"

// Middleware rejects requests without a valid bearer token and stores the
// token subject on the echo context. A nil validator disables the route group.
func Middleware(v *Validator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if v == nil {
				return response.Error(c, http.StatusServiceUnavailable, "authentication not configured", "protected endpoints are disabled")
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return response.Unauthorized(c, "missing Authorization header", "unauthorized")
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return response.Unauthorized(c, "invalid Authorization header format", "unauthorized")
			}
			userID, err := v.UserID(strings.TrimSpace(token))
			if err != nil {
				return response.Unauthorized(c, "invalid token", err.Error())
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// UserID returns the authenticated caller, or "" outside Middleware.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
