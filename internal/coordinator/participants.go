package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// AddParticipantRequest is the façade's view of POST /sessions/:id/participants.
type AddParticipantRequest struct {
	UserID       string
	GitHubUserID string
	GitHubLogin  string
	GitHubName   string
	GitHubEmail  string
	Role         domain.ParticipantRole
	AccessToken  string // plaintext; encrypted at rest before persisting
	TokenTTL     time.Duration
}

// AddParticipant upserts a participant's identity and encrypts their
// version-control access token before it ever reaches the store.
func (c *Coordinator) AddParticipant(ctx context.Context, req AddParticipantRequest) (*domain.Participant, error) {
	if req.UserID == "" {
		return nil, domain.NewError(domain.ErrorKindInvalidInput, "user_id is required")
	}
	existing, err := c.store.GetParticipantByUserID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up participant: %w", err)
	}

	p := existing
	if p == nil {
		p = &domain.Participant{ID: newID(), UserID: req.UserID, JoinedAt: nowMillis()}
	}
	p.GitHubUserID = req.GitHubUserID
	p.GitHubLogin = req.GitHubLogin
	p.GitHubName = req.GitHubName
	p.GitHubEmail = req.GitHubEmail
	if req.Role != "" {
		p.Role = req.Role
	} else if p.Role == "" {
		p.Role = domain.ParticipantRoleMember
	}
	if req.AccessToken != "" {
		enc, err := c.cipher.Encrypt(req.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		p.EncryptedToken = enc
		if req.TokenTTL > 0 {
			p.TokenExpiresAt = nowMillis() + req.TokenTTL.Milliseconds()
		}
	}

	if err := c.store.UpsertParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist participant: %w", err)
	}
	return p, nil
}

// GetParticipant loads a single participant by id, or nil if none exists.
func (c *Coordinator) GetParticipant(ctx context.Context, participantID string) (*domain.Participant, error) {
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns every participant with access to the session.
func (c *Coordinator) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	participants, err := c.store.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// MintWSToken issues a fresh client WebSocket token for participantID,
// persisting only its SHA-256 hash; the plaintext is returned once and
// never stored.
func (c *Coordinator) MintWSToken(ctx context.Context, participantID string) (string, error) {
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return "", fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return "", domain.NewError(domain.ErrorKindNotFound, "participant not found")
	}
	token := newID()
	if err := c.store.SetParticipantWSToken(ctx, participantID, cryptoutil.HashWSToken(token), nowMillis()); err != nil {
		return "", fmt.Errorf("failed to persist ws token: %w", err)
	}
	return token, nil
}
