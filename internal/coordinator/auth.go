package coordinator

import (
	"context"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// ValidateSandboxToken checks a bearer token against the session's current
// sandbox row, mirroring the check the WebSocket upgrade path runs for the
// sandbox socket itself: the token must match exactly and the sandbox must
// not have already transitioned to a terminal, connection-refusing status.
func (c *Coordinator) ValidateSandboxToken(ctx context.Context, token string) (bool, error) {
	sb, err := c.life.Current(ctx)
	if err != nil {
		return false, err
	}
	if sb == nil || sb.AuthToken == "" || sb.AuthToken != token {
		return false, nil
	}
	return sb.Status != domain.SandboxStatusStopped && sb.Status != domain.SandboxStatusStale, nil
}
