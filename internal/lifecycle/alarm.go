package lifecycle

import (
	"context"
	"log"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// rearmAlarm keeps a single outstanding timer, the earliest of the
// inactivity deadline and the heartbeat deadline. Firing it re-checks both
// conditions and re-arms for whichever is next.
func (m *Manager) rearmAlarm(sandboxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alarmTimer != nil {
		m.alarmTimer.Stop()
	}
	delay := m.cfg.HeartbeatThreshold
	if m.cfg.InactivityTimeout < delay {
		delay = m.cfg.InactivityTimeout
	}
	m.alarmTimer = time.AfterFunc(delay, func() {
		m.fireAlarm(context.Background(), sandboxID)
	})
}

func (m *Manager) fireAlarm(ctx context.Context, sandboxID string) {
	sb, err := m.store.GetSandbox(ctx)
	if err != nil {
		log.Printf("WARN: alarm failed to load sandbox: %v", err)
		return
	}
	if sb == nil || sb.ID != sandboxID || sb.Status.IsTerminal() {
		return
	}

	now := time.Now()
	if sb.LastHeartbeat != 0 && now.Sub(time.UnixMilli(sb.LastHeartbeat)) > m.cfg.HeartbeatThreshold {
		if sb.Status == domain.SandboxStatusReady || sb.Status == domain.SandboxStatusRunning {
			if err := m.store.UpdateSandboxStatus(ctx, sb.ID, domain.SandboxStatusStale); err != nil {
				log.Printf("WARN: failed to mark sandbox stale: %v", err)
			} else {
				m.notifier.BroadcastSandboxStatus(domain.SandboxStatusStale)
			}
		}
	}

	if sb.LastActivity != 0 && now.Sub(time.UnixMilli(sb.LastActivity)) > m.cfg.InactivityTimeout {
		if m.notifier.HasActiveClients() {
			m.rearmAlarm(sandboxID)
			return
		}
		m.TriggerSnapshot(ctx, sandboxID, "inactivity_timeout")
		if err := m.store.UpdateSandboxStatus(ctx, sandboxID, domain.SandboxStatusStopped); err != nil {
			log.Printf("WARN: failed to stop idle sandbox: %v", err)
		} else {
			m.notifier.BroadcastSandboxStatus(domain.SandboxStatusStopped)
		}
		return
	}

	m.rearmAlarm(sandboxID)
}

// TriggerSnapshot is idempotent with respect to an in-flight snapshot and
// fire-and-forget with respect to the caller.
func (m *Manager) TriggerSnapshot(ctx context.Context, sandboxID string, reason string) {
	m.mu.Lock()
	if m.snapshotInFlight {
		m.mu.Unlock()
		return
	}
	m.snapshotInFlight = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.snapshotInFlight = false
		m.mu.Unlock()
	}()

	sb, err := m.store.GetSandbox(ctx)
	if err != nil || sb == nil || sb.ObjectID == "" {
		return
	}

	prevStatus := sb.Status
	if err := m.store.UpdateSandboxStatus(ctx, sandboxID, domain.SandboxStatusSnapshotting); err != nil {
		log.Printf("WARN: failed to mark sandbox snapshotting: %v", err)
		return
	}
	m.notifier.BroadcastSandboxStatus(domain.SandboxStatusSnapshotting)

	result, err := m.provider.Snapshot(ctx, sb.ObjectID)
	if err != nil {
		log.Printf("WARN: snapshot (%s) failed: %v", reason, err)
		if err := m.store.UpdateSandboxStatus(ctx, sandboxID, prevStatus); err != nil {
			log.Printf("WARN: failed to revert sandbox status after failed snapshot: %v", err)
		}
		return
	}

	if err := m.store.UpdateSandboxSnapshot(ctx, sandboxID, result.ImageID); err != nil {
		log.Printf("WARN: failed to persist snapshot image id: %v", err)
	}
	if err := m.store.UpdateSandboxStatus(ctx, sandboxID, prevStatus); err != nil {
		log.Printf("WARN: failed to restore sandbox status after snapshot: %v", err)
	}
	m.notifier.BroadcastSnapshotSaved(result.ImageID, reason)
}
