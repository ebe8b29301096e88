// Package httpapi is the Façade: it terminates HTTP and WebSocket
// connections, resolves the request's session id to a coordinator instance
// via internal/registry, enforces the authentication class each route
// requires, and translates coordinator results into the JSON envelope.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/registry"
)

// Handler owns the registry and the secrets needed to authenticate
// incoming requests.
type Handler struct {
	registry   *registry.Registry
	hmacSigner *cryptoutil.HMACSigner
}

// NewHandler builds a Handler.
func NewHandler(reg *registry.Registry, hmacSigner *cryptoutil.HMACSigner) *Handler {
	return &Handler{registry: reg, hmacSigner: hmacSigner}
}

// NewServer builds a ready-to-run Echo instance with every route registered.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes wires every route in the session surface. Only /health is
// public; everything else requires the service HMAC token except
// POST /sessions/:id/pr, which additionally accepts a sandbox bearer token,
// and the WebSocket route (client or sandbox, chosen by its type query
// parameter), which authenticates its own sockets.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	auth := serviceAuth(h.hmacSigner)

	e.GET("/sessions", h.ListSessions, auth)
	e.POST("/sessions", h.CreateSession, auth)
	e.GET("/sessions/:id", h.GetSession, auth)
	e.DELETE("/sessions/:id", h.DeleteSession, auth)
	e.POST("/sessions/:id/warm", h.Warm, auth)
	e.POST("/sessions/:id/prompt", h.EnqueuePrompt, auth)
	e.POST("/sessions/:id/stop", h.Stop, auth)
	e.GET("/sessions/:id/events", h.ListEvents, auth)
	e.GET("/sessions/:id/artifacts", h.ListArtifacts, auth)
	e.GET("/sessions/:id/participants", h.ListParticipants, auth)
	e.POST("/sessions/:id/participants", h.AddParticipant, auth)
	e.GET("/sessions/:id/messages", h.ListMessages, auth)
	e.POST("/sessions/:id/pr", h.RequestPR) // dual auth handled inside
	e.POST("/sessions/:id/ws-token", h.MintWSToken, auth)
	e.POST("/sessions/:id/archive", h.Archive, auth)
	e.POST("/sessions/:id/unarchive", h.Unarchive, auth)

	e.GET("/sessions/:id/ws", h.ServeWebSocket)
}

// Health reports process liveness; it never touches the registry.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
