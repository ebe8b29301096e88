// Package queue implements the session's prompt FIFO: at most one message
// processing at a time, oldest-pending-first promotion, and queue-position
// reporting back to the enqueuer.
package queue

import (
	"context"
	"fmt"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/store"
)

// SpawnFunc is invoked when process_next finds no usable sandbox; the queue
// never drives sandbox lifecycle itself, it only signals the need.
type SpawnFunc func(ctx context.Context) error

// SandboxReadyFunc reports whether the session currently has a sandbox that
// can accept a dispatched prompt.
type SandboxReadyFunc func(ctx context.Context) (bool, error)

// DispatchFunc sends the promoted message to the sandbox once it is ready.
type DispatchFunc func(ctx context.Context, m *domain.Message) error

// Engine is the FIFO engine for one session's prompt queue.
type Engine struct {
	store        store.Store
	sandboxReady SandboxReadyFunc
	spawn        SpawnFunc
	dispatch     DispatchFunc
}

// New builds a queue Engine bound to store and the lifecycle hooks it needs
// to ensure a sandbox before dispatching.
func New(st store.Store, sandboxReady SandboxReadyFunc, spawn SpawnFunc, dispatch DispatchFunc) *Engine {
	return &Engine{store: st, sandboxReady: sandboxReady, spawn: spawn, dispatch: dispatch}
}

// Enqueue persists a new pending message and returns its 1-based queue
// position (1 meaning "next to run").
func (e *Engine) Enqueue(ctx context.Context, m *domain.Message) (int, error) {
	if err := e.store.CreateMessage(ctx, m); err != nil {
		return 0, fmt.Errorf("failed to enqueue message: %w", err)
	}
	count, err := e.store.PendingOrProcessingCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return count, nil
}

// ProcessNext selects the oldest pending message and dispatches it, unless
// another message is already processing or no sandbox is ready — in the
// latter case it requests a spawn and returns without marking anything
// processing; the caller must re-enter ProcessNext once the sandbox becomes
// ready.
func (e *Engine) ProcessNext(ctx context.Context) error {
	processing, err := e.store.GetProcessingMessage(ctx)
	if err != nil {
		return fmt.Errorf("failed to check processing message: %w", err)
	}
	if processing != nil {
		return nil
	}

	pending, err := e.store.GetOldestPendingMessage(ctx)
	if err != nil {
		return fmt.Errorf("failed to get oldest pending message: %w", err)
	}
	if pending == nil {
		return nil
	}

	ready, err := e.sandboxReady(ctx)
	if err != nil {
		return fmt.Errorf("failed to check sandbox readiness: %w", err)
	}
	if !ready {
		return e.spawn(ctx)
	}

	if err := e.MarkProcessing(ctx, pending.ID); err != nil {
		return err
	}
	if err := e.dispatch(ctx, pending); err != nil {
		return fmt.Errorf("failed to dispatch message %s: %w", pending.ID, err)
	}
	return nil
}

// MarkProcessing transitions a pending message to processing.
func (e *Engine) MarkProcessing(ctx context.Context, id string) error {
	if err := e.store.UpdateMessageStatus(ctx, id, domain.MessageStatusProcessing, nowMillis(), 0); err != nil {
		return fmt.Errorf("failed to mark message %s processing: %w", id, err)
	}
	return nil
}

// Complete transitions a message to completed or failed. It is idempotent:
// calling it twice for the same id is a no-op the second time.
func (e *Engine) Complete(ctx context.Context, id string, success bool) error {
	m, err := e.store.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %s: %w", id, err)
	}
	if m == nil {
		return domain.NewError(domain.ErrorKindNotFound, "message not found")
	}
	if m.Status.IsTerminal() {
		return nil
	}

	status := domain.MessageStatusCompleted
	if !success {
		status = domain.MessageStatusFailed
	}
	if err := e.store.UpdateMessageStatus(ctx, id, status, m.StartedAt, nowMillis()); err != nil {
		return fmt.Errorf("failed to complete message %s: %w", id, err)
	}
	return nil
}

// PeekProcessing returns the currently-processing message, or nil.
func (e *Engine) PeekProcessing(ctx context.Context) (*domain.Message, error) {
	return e.store.GetProcessingMessage(ctx)
}

// PendingOrProcessingCount reports the current queue depth.
func (e *Engine) PendingOrProcessingCount(ctx context.Context) (int, error) {
	return e.store.PendingOrProcessingCount(ctx)
}
