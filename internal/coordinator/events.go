package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
)

// ListEvents paginates the append-only event log.
func (c *Coordinator) ListEvents(ctx context.Context, cursor int64, limit int, eventType, messageID string) ([]domain.Event, int64, bool, error) {
	events, next, hasMore, err := c.store.ListEvents(ctx, cursor, limit, eventType, messageID)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to list events: %w", err)
	}
	return events, next, hasMore, nil
}

// ListArtifacts returns every artifact the session has produced.
func (c *Coordinator) ListArtifacts(ctx context.Context) ([]domain.Artifact, error) {
	artifacts, err := c.store.ListArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}

// HandleSandboxEvent persists a raw sandbox event and routes it to the
// side effect its type carries: heartbeat/activity bookkeeping, execution
// completion, artifact recording, or push promise resolution. Every event
// is persisted exactly once, before any side effect runs, so a crash
// mid-handler never loses the observation.
func (c *Coordinator) HandleSandboxEvent(ctx context.Context, eventType string, raw json.RawMessage) error {
	var envelope struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(raw, &envelope)

	evt := &domain.Event{
		ID:        newID(),
		Type:      domain.EventType(eventType),
		Payload:   raw,
		MessageID: envelope.MessageID,
		CreatedAt: nowMillis(),
	}
	if err := c.store.CreateEvent(ctx, evt); err != nil {
		return fmt.Errorf("failed to persist sandbox event: %w", err)
	}

	sb, err := c.life.Current(ctx)
	if err != nil {
		return err
	}

	switch eventType {
	case protocol.EventHeartbeat:
		if sb != nil {
			c.life.RecordHeartbeat(ctx, sb.ID)
		}
		return nil

	case protocol.EventGitSync:
		var e protocol.GitSyncEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("failed to parse git_sync event: %w", err)
		}
		if sb != nil {
			if err := c.store.UpdateSandboxGitSync(ctx, sb.ID, domain.GitSyncStatus(e.Status)); err != nil {
				log.Printf("WARN: failed to update git sync status: %v", err)
			}
		}
		c.hub.Broadcast(protocol.SandboxEventFrame{Type: protocol.TypeSandboxEvent, Event: raw})
		return nil

	case protocol.EventExecutionComplete:
		var e protocol.ExecutionCompleteEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("failed to parse execution_complete event: %w", err)
		}
		if err := c.queue.Complete(ctx, e.MessageID, e.Success); err != nil {
			log.Printf("WARN: failed to complete message %s: %v", e.MessageID, err)
		}
		if sb != nil {
			if err := c.life.HandleExecutionComplete(ctx, sb.ID); err != nil {
				log.Printf("WARN: failed to handle execution complete: %v", err)
			}
		}
		c.hub.Broadcast(processingStatusFrame(false))
		c.hub.Broadcast(protocol.SandboxEventFrame{Type: protocol.TypeSandboxEvent, Event: raw})
		if err := c.queue.ProcessNext(ctx); err != nil {
			log.Printf("WARN: failed to advance queue after execution complete: %v", err)
		}
		return nil

	case protocol.EventArtifact:
		var e protocol.ArtifactEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("failed to parse artifact event: %w", err)
		}
		a := &domain.Artifact{
			ID:        newID(),
			Type:      domain.ArtifactType(e.ArtifactType),
			URL:       e.URL,
			Metadata:  e.Metadata,
			CreatedAt: nowMillis(),
		}
		if err := c.store.CreateArtifact(ctx, a); err != nil {
			return fmt.Errorf("failed to persist artifact: %w", err)
		}
		c.hub.Broadcast(artifactCreatedFrame(a))
		return nil

	case protocol.EventPushComplete:
		var e protocol.PushCompleteEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("failed to parse push_complete event: %w", err)
		}
		c.push.ResolvePushComplete(e.BranchName)
		return nil

	case protocol.EventPushError:
		var e protocol.PushErrorEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("failed to parse push_error event: %w", err)
		}
		c.push.ResolvePushError(e.BranchName, e.Error)
		return nil

	default:
		// token, tool_call, tool_result, and any future event types are
		// forwarded to clients verbatim; the coordinator has no side
		// effect of its own beyond the persistence above.
		c.hub.Broadcast(protocol.SandboxEventFrame{Type: protocol.TypeSandboxEvent, Event: raw})
		return nil
	}
}
