package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
)

// serviceAuth gates every non-public route behind the shared HMAC
// service-to-service bearer token. An unconfigured signer fails closed
// with 500, rather than silently accepting every request.
func serviceAuth(signer *cryptoutil.HMACSigner) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !signer.Configured() {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal authentication not configured"})
			}
			token, err := cryptoutil.ParseBearer(c.Request().Header.Get("Authorization"))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			}
			if !signer.Verify(token, time.Now()) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired service token"})
			}
			return next(c)
		}
	}
}
