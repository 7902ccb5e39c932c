package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"account-gateway/internal/token"
)

// principalKey is the echo.Context key holding the verified *token.Principal.
const principalKey = "gateway.principal"

// Authenticate returns an Echo middleware that requires a valid bearer token
// and stores the caller's Principal in the context.
func Authenticate(v *token.Verifier, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "auth")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := token.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return unauthorized(c, "bearer token required")
			}

			p, err := v.Verify(raw)
			if err != nil {
				logger.Debug("rejected bearer token",
					"path", c.Request().URL.Path,
					"err", err,
				)
				return unauthorized(c, "invalid or expired token")
			}

			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// RequireRole returns an Echo middleware that allows only callers carrying
// role. It must run after Authenticate.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return unauthorized(c, "bearer token required")
			}
			if !p.HasRole(role) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "insufficient role",
				})
			}
			return next(c)
		}
	}
}

// PrincipalFrom returns the Principal stored by Authenticate.
func PrincipalFrom(c echo.Context) (*token.Principal, bool) {
	p, ok := c.Get(principalKey).(*token.Principal)
	return p, ok && p != nil
}

func unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": msg})
}
