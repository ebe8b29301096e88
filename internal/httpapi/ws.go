package httpapi

import (
	"github.com/labstack/echo/v4"
)

// ServeWebSocket upgrades either a client or a sandbox socket for the
// session, per the WS /sessions/:id/ws?type=sandbox distinction. Each
// socket authenticates itself once upgraded (subscribe frame for clients,
// bearer token + object id header for the sandbox), so no auth middleware
// runs ahead of this route.
func (h *Handler) ServeWebSocket(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	srv := co.WSServer()
	if c.QueryParam("type") == "sandbox" {
		return srv.HandleSandboxSocket(c)
	}
	return srv.HandleClientSocket(c)
}
