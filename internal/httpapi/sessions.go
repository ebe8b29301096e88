package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/coordinator"
	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// ListSessions paginates every persisted session across the registry.
// GET /sessions?cursor&limit
func (h *Handler) ListSessions(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	sessions, cursor, hasMore, err := h.registry.ListSessions(c.Request().Context(), c.QueryParam("cursor"), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":   sessions,
		"cursor":  cursor,
		"hasMore": hasMore,
	})
}

type createSessionBody struct {
	SessionName       string `json:"session_name"`
	Title             string `json:"title"`
	RepoOwner         string `json:"repo_owner"`
	RepoName          string `json:"repo_name"`
	RepoDefaultBranch string `json:"repo_default_branch"`
	Model             string `json:"model"`
}

// CreateSession mints a fresh routing id and initializes its coordinator.
// POST /sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var body createSessionBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	id := h.registry.NewSessionID()
	co, err := h.registry.Get(id)
	if err != nil {
		return writeError(c, err)
	}

	sess, err := co.CreateSession(c.Request().Context(), coordinator.CreateSessionRequest{
		ID:                id,
		SessionName:       body.SessionName,
		Title:             body.Title,
		RepoOwner:         body.RepoOwner,
		RepoName:          body.RepoName,
		RepoDefaultBranch: body.RepoDefaultBranch,
		Model:             body.Model,
	})
	if err != nil {
		h.registry.Evict(id)
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// GetSession returns full session state.
// GET /sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	sess, err := co.GetSession(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// DeleteSession tears down a session.
// DELETE /sessions/:id
func (h *Handler) DeleteSession(c echo.Context) error {
	id := c.Param("id")
	co, err := h.registry.Get(id)
	if err != nil {
		return writeError(c, err)
	}
	if err := co.DeleteSession(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	h.registry.Evict(id)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Warm requests a best-effort sandbox prefetch.
// POST /sessions/:id/warm
func (h *Handler) Warm(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := co.Warm(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type archiveBody struct {
	ParticipantID string `json:"participant_id"`
}

// Archive transitions the session to archived, gated by policy.
// POST /sessions/:id/archive
func (h *Handler) Archive(c echo.Context) error {
	return h.setArchiveStatus(c, true)
}

// Unarchive reverses Archive.
// POST /sessions/:id/unarchive
func (h *Handler) Unarchive(c echo.Context) error {
	return h.setArchiveStatus(c, false)
}

func (h *Handler) setArchiveStatus(c echo.Context, archive bool) error {
	var body archiveBody
	_ = c.Bind(&body)

	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()

	var actor *domain.Participant
	if body.ParticipantID != "" {
		actor, err = co.GetParticipant(ctx, body.ParticipantID)
		if err != nil {
			return writeError(c, err)
		}
	}

	if archive {
		err = co.Archive(ctx, actor)
	} else {
		err = co.Unarchive(ctx, actor)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func queryInt(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
