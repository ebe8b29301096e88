package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/coordinator"
	"github.com/sessioncoordinator/coordinator/internal/domain"
)

type enqueuePromptBody struct {
	AuthorID        string          `json:"author_id"`
	Content         string          `json:"content"`
	Source          string          `json:"source"`
	Model           string          `json:"model"`
	Attachments     json.RawMessage `json:"attachments"`
	CallbackContext json.RawMessage `json:"callback_context"`
}

// EnqueuePrompt persists a new pending message and kicks queue processing.
// POST /sessions/:id/prompt
func (h *Handler) EnqueuePrompt(c echo.Context) error {
	var body enqueuePromptBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	source := domain.MessageSourceWeb
	if body.Source != "" {
		source = domain.MessageSource(body.Source)
	}

	m, position, err := co.EnqueuePrompt(c.Request().Context(), coordinator.EnqueuePromptRequest{
		AuthorID:        body.AuthorID,
		Content:         body.Content,
		Source:          source,
		Model:           body.Model,
		Attachments:     body.Attachments,
		CallbackContext: body.CallbackContext,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  m,
		"position": position,
	})
}

// Stop forwards a stop frame to the sandbox, or no-ops if nothing is
// processing.
// POST /sessions/:id/stop
func (h *Handler) Stop(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := co.Stop(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ListMessages paginates the message log.
// GET /sessions/:id/messages?cursor&limit&status
func (h *Handler) ListMessages(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	var status domain.MessageStatus
	if s := c.QueryParam("status"); s != "" {
		status = domain.MessageStatus(s)
	}
	msgs, cursor, hasMore, err := co.ListMessages(c.Request().Context(), c.QueryParam("cursor"), queryInt(c, "limit", 50), status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":   msgs,
		"cursor":  cursor,
		"hasMore": hasMore,
	})
}

// ListEvents paginates the append-only event log.
// GET /sessions/:id/events?cursor&limit&type&message_id
func (h *Handler) ListEvents(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	cursor := int64(queryInt(c, "cursor", 0))
	events, next, hasMore, err := co.ListEvents(c.Request().Context(), cursor, queryInt(c, "limit", 100), c.QueryParam("type"), c.QueryParam("message_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":   events,
		"cursor":  next,
		"hasMore": hasMore,
	})
}

// ListArtifacts returns every artifact the session has produced.
// GET /sessions/:id/artifacts
func (h *Handler) ListArtifacts(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	artifacts, err := co.ListArtifacts(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": artifacts})
}
