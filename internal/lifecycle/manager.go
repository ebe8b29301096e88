// Package lifecycle owns the sandbox state machine: warm/spawn policy, the
// provider circuit breaker, inactivity and heartbeat alarms, and
// snapshot-on-completion.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/sandboxclient"
	"github.com/sessioncoordinator/coordinator/internal/store"
)

// Notifier is the set of session-scoped effects the lifecycle manager needs
// but does not own: broadcasting to connected clients and reaching the
// sandbox socket. The coordinator wires this to the hub.
type Notifier interface {
	BroadcastSandboxStatus(status domain.SandboxStatus)
	BroadcastSnapshotSaved(imageID, reason string)
	BroadcastSandboxError(message string)
	BroadcastSandboxRestored()
	HasActiveClients() bool
	SendStopToSandbox() bool
}

// Config bundles the tunables the manager needs from internal/config.
type Config struct {
	InactivityTimeout      time.Duration
	HeartbeatThreshold     time.Duration
	SpawnCooldown          time.Duration
	CircuitBreakerWindow   time.Duration
	CircuitBreakerCooldown time.Duration
	CircuitBreakerLimit    int
}

// Manager drives one session's Sandbox row through its state machine.
type Manager struct {
	store    store.Store
	provider *sandboxclient.Client
	notifier Notifier
	cfg      Config

	repoOwner         string
	repoName          string
	repoDefaultBranch string

	mu               sync.Mutex
	lastSpawnAt      time.Time
	snapshotInFlight bool
	alarmTimer       *time.Timer
}

// New builds a Manager for one session.
func New(st store.Store, provider *sandboxclient.Client, notifier Notifier, cfg Config, repoOwner, repoName, repoDefaultBranch string) *Manager {
	return &Manager{
		store:             st,
		provider:          provider,
		notifier:          notifier,
		cfg:               cfg,
		repoOwner:         repoOwner,
		repoName:          repoName,
		repoDefaultBranch: repoDefaultBranch,
	}
}

// SetRepoIdentity updates the repo coordinates used for sandbox
// create/restore requests. The coordinator calls this once CreateSession
// persists the session row, since the Manager is constructed before the
// session (and its repo identity) necessarily exists.
func (m *Manager) SetRepoIdentity(owner, name, defaultBranch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoOwner = owner
	m.repoName = name
	m.repoDefaultBranch = defaultBranch
}

// Current returns the session's sandbox row, or nil if none has been
// created yet.
func (m *Manager) Current(ctx context.Context) (*domain.Sandbox, error) {
	sb, err := m.store.GetSandbox(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sandbox: %w", err)
	}
	return sb, nil
}

// IsUsable reports whether the current sandbox can accept a dispatched
// prompt without first spawning or restoring.
func (m *Manager) IsUsable(ctx context.Context) (bool, error) {
	sb, err := m.Current(ctx)
	if err != nil {
		return false, err
	}
	if sb == nil {
		return false, nil
	}
	return sb.Status == domain.SandboxStatusReady, nil
}

// Warm is a best-effort prefetch. It short-circuits if the sandbox already
// exists in a state IsUsable accepts (pending, spawning, connecting,
// warming, ready or running), if the circuit breaker is
// open, or if a spawn cooldown is still in effect.
func (m *Manager) Warm(ctx context.Context) error {
	sb, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if sb != nil && sb.Status.IsUsable() {
		return nil
	}
	if m.breakerOpen(sb) {
		return nil
	}
	m.mu.Lock()
	cooldownActive := time.Since(m.lastSpawnAt) < m.cfg.SpawnCooldown
	m.mu.Unlock()
	if cooldownActive {
		return nil
	}
	return m.Spawn(ctx)
}

// Spawn is the mandatory path taken when a prompt arrives with no usable
// sandbox. It attempts restoration from the last snapshot first, falling
// back to a cold create only if no snapshot exists or restore fails.
func (m *Manager) Spawn(ctx context.Context) error {
	sb, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if m.breakerOpen(sb) {
		return domain.NewError(domain.ErrorKindTransient, "sandbox provider circuit breaker is open")
	}

	authToken, err := freshAuthToken()
	if err != nil {
		return fmt.Errorf("failed to mint sandbox auth token: %w", err)
	}

	m.mu.Lock()
	m.lastSpawnAt = time.Now()
	m.mu.Unlock()

	id := nextSandboxID(sb)
	next := &domain.Sandbox{
		ID:            id,
		Status:        domain.SandboxStatusSpawning,
		GitSyncStatus: domain.GitSyncStatusPending,
		AuthToken:     authToken,
		CreatedAt:     nowMillis(),
	}
	if sb != nil {
		next.CircuitBreakerFailures = sb.CircuitBreakerFailures
		next.CircuitBreakerOpenedAt = sb.CircuitBreakerOpenedAt
		next.SnapshotImageID = sb.SnapshotImageID
	}
	if err := m.store.PutSandbox(ctx, next); err != nil {
		return fmt.Errorf("failed to persist spawning sandbox: %w", err)
	}
	m.notifier.BroadcastSandboxStatus(domain.SandboxStatusSpawning)

	m.mu.Lock()
	owner, name, defaultBranch := m.repoOwner, m.repoName, m.repoDefaultBranch
	m.mu.Unlock()
	cfg := sandboxclient.CreateConfig{
		RepoOwner:         owner,
		RepoName:          name,
		RepoDefaultBranch: defaultBranch,
		AuthToken:         authToken,
	}

	if next.SnapshotImageID != "" {
		if result, err := m.provider.Restore(ctx, next.SnapshotImageID, cfg); err == nil {
			// The restore response does not hand back a fresh provider
			// object id; the sandbox keeps the object id it had before
			// the snapshot was taken (it's the same underlying volume).
			_ = result
			return m.onSpawnSucceeded(ctx, next, sb)
		}
		log.Printf("WARN: sandbox restore from snapshot %s failed, falling back to cold create", next.SnapshotImageID)
	}

	result, err := m.provider.Create(ctx, cfg)
	if err != nil {
		return m.onSpawnFailed(ctx, next, err)
	}
	next.ObjectID = result.ObjectID
	return m.onSpawnSucceeded(ctx, next, nil)
}

// onSpawnSucceeded persists the now-provisioned sandbox (including the
// provider object id, which the sandbox socket's X-Sandbox-ID handshake
// checks against) and transitions it to connecting. prev, when non-nil,
// carries forward the pre-restore object id when restoring in place.
func (m *Manager) onSpawnSucceeded(ctx context.Context, sb *domain.Sandbox, prev *domain.Sandbox) error {
	m.resetBreaker(ctx, sb.ID)
	if sb.ObjectID == "" && prev != nil {
		sb.ObjectID = prev.ObjectID
	}
	sb.Status = domain.SandboxStatusConnecting
	if err := m.store.PutSandbox(ctx, sb); err != nil {
		return fmt.Errorf("failed to transition sandbox to connecting: %w", err)
	}
	m.notifier.BroadcastSandboxStatus(domain.SandboxStatusConnecting)
	return nil
}

func (m *Manager) onSpawnFailed(ctx context.Context, sb *domain.Sandbox, cause error) error {
	if sandboxclient.IsTransient(cause) {
		m.recordBreakerFailure(ctx, sb)
		if err := m.store.UpdateSandboxStatus(ctx, sb.ID, domain.SandboxStatusPending); err != nil {
			log.Printf("WARN: failed to revert sandbox to pending after transient failure: %v", err)
		}
		return domain.WrapError(domain.ErrorKindTransient, "sandbox provider create failed", cause)
	}
	if err := m.store.UpdateSandboxStatus(ctx, sb.ID, domain.SandboxStatusFailed); err != nil {
		log.Printf("WARN: failed to transition sandbox to failed: %v", err)
	}
	m.notifier.BroadcastSandboxError(cause.Error())
	return domain.WrapError(domain.ErrorKindPermanent, "sandbox provider create failed", cause)
}

// MarkConnected transitions the sandbox from connecting to ready once its
// WebSocket has connected back to the hub.
func (m *Manager) MarkConnected(ctx context.Context, sandboxID string) error {
	if err := m.store.UpdateSandboxStatus(ctx, sandboxID, domain.SandboxStatusReady); err != nil {
		return fmt.Errorf("failed to mark sandbox ready: %w", err)
	}
	now := nowMillis()
	if err := m.store.UpdateSandboxActivity(ctx, sandboxID, now); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	if err := m.store.UpdateSandboxHeartbeat(ctx, sandboxID, now); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	m.notifier.BroadcastSandboxStatus(domain.SandboxStatusReady)
	m.rearmAlarm(sandboxID)
	return nil
}

// MarkRunning transitions the sandbox to running when a prompt is
// dispatched.
func (m *Manager) MarkRunning(ctx context.Context, sandboxID string) error {
	if err := m.store.UpdateSandboxStatus(ctx, sandboxID, domain.SandboxStatusRunning); err != nil {
		return fmt.Errorf("failed to mark sandbox running: %w", err)
	}
	m.RecordActivity(ctx, sandboxID)
	return nil
}

// HandleExecutionComplete moves a running sandbox back to ready and
// triggers a post-execution snapshot.
func (m *Manager) HandleExecutionComplete(ctx context.Context, sandboxID string) error {
	if err := m.store.UpdateSandboxStatus(ctx, sandboxID, domain.SandboxStatusReady); err != nil {
		return fmt.Errorf("failed to mark sandbox ready after execution: %w", err)
	}
	m.notifier.BroadcastSandboxStatus(domain.SandboxStatusReady)
	m.RecordActivity(ctx, sandboxID)
	go m.TriggerSnapshot(context.Background(), sandboxID, "execution_complete")
	return nil
}

// RecordActivity bumps last_activity and re-arms the inactivity alarm.
func (m *Manager) RecordActivity(ctx context.Context, sandboxID string) {
	if err := m.store.UpdateSandboxActivity(ctx, sandboxID, nowMillis()); err != nil {
		log.Printf("WARN: failed to record sandbox activity: %v", err)
	}
	m.rearmAlarm(sandboxID)
}

// RecordHeartbeat bumps last_heartbeat; the alarm loop separately checks
// staleness against HeartbeatThreshold.
func (m *Manager) RecordHeartbeat(ctx context.Context, sandboxID string) {
	if err := m.store.UpdateSandboxHeartbeat(ctx, sandboxID, nowMillis()); err != nil {
		log.Printf("WARN: failed to record sandbox heartbeat: %v", err)
	}
}

// Stop performs the explicit-stop branch of the state machine
// (any -> stopped): it marks the sandbox stopped immediately, broadcasts
// the new status and cancels the alarm. It sends nothing to the sandbox.
func (m *Manager) Stop(ctx context.Context, sandboxID string) error {
	if err := m.store.UpdateSandboxStatus(ctx, sandboxID, domain.SandboxStatusStopped); err != nil {
		return fmt.Errorf("failed to mark sandbox stopped: %w", err)
	}
	m.notifier.BroadcastSandboxStatus(domain.SandboxStatusStopped)
	m.mu.Lock()
	if m.alarmTimer != nil {
		m.alarmTimer.Stop()
	}
	m.mu.Unlock()
	return nil
}

// nextSandboxID reuses the existing sandbox row's id across a restore (it
// is still the same logical session sandbox); a cold create with no prior
// row mints a fresh one, since creating a new sandbox supersedes any old
// record.
func nextSandboxID(sb *domain.Sandbox) string {
	if sb != nil && sb.ID != "" {
		return sb.ID
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	return hex.EncodeToString(buf)
}

func freshAuthToken() (string, error) {
	buf := make([]byte, 16) // 128 bits of entropy
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
