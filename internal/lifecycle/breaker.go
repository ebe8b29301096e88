package lifecycle

import (
	"context"
	"log"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// breakerOpen reports whether the circuit breaker is currently tripped for
// sb. A breaker opened more than CircuitBreakerCooldown ago is treated as
// closed even if CircuitBreakerFailures was never explicitly reset, since
// the cooldown has elapsed.
func (m *Manager) breakerOpen(sb *domain.Sandbox) bool {
	if sb == nil || sb.CircuitBreakerOpenedAt == 0 || sb.CircuitBreakerFailures < m.cfg.CircuitBreakerLimit {
		return false
	}
	openedAt := time.UnixMilli(sb.CircuitBreakerOpenedAt)
	return time.Since(openedAt) < m.cfg.CircuitBreakerCooldown
}

// recordBreakerFailure increments the consecutive-transient-failure count
// and opens the breaker once CircuitBreakerLimit is reached within
// CircuitBreakerWindow of the first failure in the run.
func (m *Manager) recordBreakerFailure(ctx context.Context, sb *domain.Sandbox) {
	failures := sb.CircuitBreakerFailures + 1
	openedAt := sb.CircuitBreakerOpenedAt

	windowStart := time.UnixMilli(sb.CircuitBreakerOpenedAt)
	if sb.CircuitBreakerOpenedAt == 0 || time.Since(windowStart) > m.cfg.CircuitBreakerWindow {
		// Starting a fresh failure window.
		failures = 1
		openedAt = 0
	}
	if failures >= m.cfg.CircuitBreakerLimit {
		openedAt = nowMillis()
		log.Printf("sandbox circuit breaker open after %d consecutive transient failures", failures)
	} else if openedAt == 0 {
		openedAt = nowMillis()
	}

	if err := m.store.UpdateSandboxCircuitBreaker(ctx, sb.ID, failures, openedAt); err != nil {
		log.Printf("WARN: failed to persist circuit breaker state: %v", err)
	}
}

// resetBreaker clears the failure count on a successful create or restore.
func (m *Manager) resetBreaker(ctx context.Context, sandboxID string) {
	if err := m.store.UpdateSandboxCircuitBreaker(ctx, sandboxID, 0, 0); err != nil {
		log.Printf("WARN: failed to reset circuit breaker state: %v", err)
	}
}
