package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// CreateSessionRequest is the façade's view of POST /sessions. ID is the
// routing id the registry pre-assigned before this coordinator was
// constructed; the session row's id must match it exactly, since the
// registry keys coordinator instances by it.
type CreateSessionRequest struct {
	ID                string
	SessionName       string
	Title             string
	RepoOwner         string
	RepoName          string
	RepoDefaultBranch string
	Model             string
}

// CreateSession initializes this coordinator's singleton session row. Repo
// identifiers are normalized to lowercase at the boundary, per the
// façade's normalization responsibility.
func (c *Coordinator) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.SessionName == "" {
		return nil, domain.NewError(domain.ErrorKindInvalidInput, "session_name is required")
	}
	existing, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.NewError(domain.ErrorKindConflict, "session already initialized")
	}

	id := req.ID
	if id == "" {
		id = newID()
	}
	now := nowMillis()
	sess := &domain.Session{
		ID:                id,
		SessionName:       req.SessionName,
		Title:             req.Title,
		RepoOwner:         strings.ToLower(req.RepoOwner),
		RepoName:          strings.ToLower(req.RepoName),
		RepoDefaultBranch: req.RepoDefaultBranch,
		Model:             req.Model,
		Status:            domain.SessionStatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.life.SetRepoIdentity(sess.RepoOwner, sess.RepoName, sess.RepoDefaultBranch)
	return sess, nil
}

// GetSession returns the full session state, or a not-found error if this
// coordinator has not been initialized yet.
func (c *Coordinator) GetSession(ctx context.Context) (*domain.Session, error) {
	sess, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.NewError(domain.ErrorKindNotFound, "session not found")
	}
	return sess, nil
}

// DeleteSession tears down the session row. Sandbox and hub state are left
// for the caller's process-level cleanup (stopping the sandbox is a
// separate, explicit operation).
func (c *Coordinator) DeleteSession(ctx context.Context) error {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if err := c.store.DeleteSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Warm requests a best-effort sandbox prefetch; see lifecycle.Manager.Warm.
func (c *Coordinator) Warm(ctx context.Context) error {
	if _, err := c.GetSession(ctx); err != nil {
		return err
	}
	return c.life.Warm(ctx)
}

// Archive transitions the session to archived, gated by policy (non-owner
// participants require approval).
func (c *Coordinator) Archive(ctx context.Context, actor *domain.Participant) error {
	return c.setSessionStatusGated(ctx, actor, "archive", domain.SessionStatusArchived)
}

// Unarchive reverses Archive, restoring the session to active.
func (c *Coordinator) Unarchive(ctx context.Context, actor *domain.Participant) error {
	return c.setSessionStatusGated(ctx, actor, "archive", domain.SessionStatusActive)
}

func (c *Coordinator) setSessionStatusGated(ctx context.Context, actor *domain.Participant, operation string, status domain.SessionStatus) error {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if c.gate != nil && actor != nil {
		decision, err := c.gate.Evaluate(ctx, policyInput(operation, actor))
		if err != nil {
			return fmt.Errorf("failed to evaluate %s policy: %w", operation, err)
		}
		if decision != policyAllow {
			return domain.NewError(domain.ErrorKindUnauthorized, operation+" blocked by policy: "+string(decision))
		}
	}
	sess.Status = status
	sess.UpdatedAt = nowMillis()
	if err := c.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	c.hub.Broadcast(sessionStatusFrame(status))
	return nil
}
