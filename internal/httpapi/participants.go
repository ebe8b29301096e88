package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/coordinator"
	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// ListParticipants returns every participant with access to the session.
// GET /sessions/:id/participants
func (h *Handler) ListParticipants(c echo.Context) error {
	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	participants, err := co.ListParticipants(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": participants})
}

type addParticipantBody struct {
	UserID       string `json:"user_id"`
	GitHubUserID string `json:"github_user_id"`
	GitHubLogin  string `json:"github_login"`
	GitHubName   string `json:"github_name"`
	GitHubEmail  string `json:"github_email"`
	Role         string `json:"role"`
	AccessToken  string `json:"access_token"`
	TokenTTLSecs int    `json:"token_ttl_seconds"`
}

// AddParticipant upserts a participant's identity onto the session.
// POST /sessions/:id/participants
func (h *Handler) AddParticipant(c echo.Context) error {
	var body addParticipantBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	var ttl time.Duration
	if body.TokenTTLSecs > 0 {
		ttl = time.Duration(body.TokenTTLSecs) * time.Second
	}

	p, err := co.AddParticipant(c.Request().Context(), coordinator.AddParticipantRequest{
		UserID:       body.UserID,
		GitHubUserID: body.GitHubUserID,
		GitHubLogin:  body.GitHubLogin,
		GitHubName:   body.GitHubName,
		GitHubEmail:  body.GitHubEmail,
		Role:         domain.ParticipantRole(body.Role),
		AccessToken:  body.AccessToken,
		TokenTTL:     ttl,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// MintWSToken issues a fresh client WebSocket token.
// POST /sessions/:id/ws-token
func (h *Handler) MintWSToken(c echo.Context) error {
	var body struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := c.Bind(&body); err != nil || body.ParticipantID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "participant_id is required"})
	}

	co, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	token, err := co.MintWSToken(c.Request().Context(), body.ParticipantID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}
