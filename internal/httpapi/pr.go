package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
)

// RequestPR pushes the sandbox's current branch and opens a pull request.
// POST /sessions/:id/pr accepts either the usual service HMAC token or a
// sandbox bearer token scoped to this session's own sandbox, since the
// sandbox itself is the most common caller of this route.
func (h *Handler) RequestPR(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()

	token, err := cryptoutil.ParseBearer(c.Request().Header.Get("Authorization"))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
	}

	authorized := h.hmacSigner.Configured() && h.hmacSigner.Verify(token, time.Now())
	if !authorized {
		ok, verr := co.ValidateSandboxToken(ctx, token)
		if verr != nil {
			return writeError(c, verr)
		}
		authorized = ok
	}
	if !authorized {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}

	artifact, err := co.RequestPR(ctx)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, artifact)
}
