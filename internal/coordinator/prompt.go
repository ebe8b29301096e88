package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
)

// EnqueuePromptRequest is the façade's view of POST /sessions/:id/prompt and
// the WebSocket prompt frame.
type EnqueuePromptRequest struct {
	AuthorID        string
	Content         string
	Source          domain.MessageSource
	Model           string
	Attachments     json.RawMessage
	CallbackContext json.RawMessage
}

// EnqueuePrompt persists a new pending message and kicks queue processing.
// It responds only after the message is durably enqueued, per the
// façade's mutating-route contract: the 1-based queue position is the
// number of pending-or-processing messages including this one.
func (c *Coordinator) EnqueuePrompt(ctx context.Context, req EnqueuePromptRequest) (*domain.Message, int, error) {
	if req.Content == "" {
		return nil, 0, domain.NewError(domain.ErrorKindInvalidInput, "content is required")
	}
	if _, err := c.GetSession(ctx); err != nil {
		return nil, 0, err
	}

	m := &domain.Message{
		ID:              newID(),
		AuthorID:        req.AuthorID,
		Content:         req.Content,
		Source:          req.Source,
		Model:           req.Model,
		Attachments:     req.Attachments,
		CallbackContext: req.CallbackContext,
		Status:          domain.MessageStatusPending,
		CreatedAt:       nowMillis(),
	}
	position, err := c.queue.Enqueue(ctx, m)
	if err != nil {
		return nil, 0, err
	}

	if err := c.queue.ProcessNext(ctx); err != nil {
		log.Printf("WARN: failed to advance queue after enqueue: %v", err)
	}
	return m, position, nil
}

// Stop forwards a stop frame to the sandbox. Stopping with nothing
// currently processing is a harmless no-op rather than an error.
func (c *Coordinator) Stop(ctx context.Context) error {
	processing, err := c.queue.PeekProcessing(ctx)
	if err != nil {
		return err
	}
	if processing == nil {
		return nil
	}
	c.hub.SendToSandbox(protocol.SandboxStopCommand{Type: protocol.TypeSandboxStop})
	return nil
}

// ListMessages paginates the message log.
func (c *Coordinator) ListMessages(ctx context.Context, cursor string, limit int, status domain.MessageStatus) ([]domain.Message, string, bool, error) {
	msgs, next, hasMore, err := c.store.ListMessages(ctx, cursor, limit, status)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, next, hasMore, nil
}

// dispatchToSandbox is the queue engine's DispatchFunc: it marks the
// sandbox running and forwards the prompt over the sandbox socket.
func (c *Coordinator) dispatchToSandbox(ctx context.Context, m *domain.Message) error {
	sb, err := c.life.Current(ctx)
	if err != nil {
		return err
	}
	if sb == nil {
		return domain.NewError(domain.ErrorKindTransient, "no sandbox available to dispatch to")
	}
	if err := c.life.MarkRunning(ctx, sb.ID); err != nil {
		return err
	}

	author := m.AuthorID
	if p, err := c.store.GetParticipant(ctx, m.AuthorID); err == nil && p != nil && p.GitHubLogin != "" {
		author = p.GitHubLogin
	}

	if ok := c.hub.SendToSandbox(protocol.SandboxPromptCommand{
		Type:        protocol.TypeSandboxPrompt,
		MessageID:   m.ID,
		Content:     m.Content,
		Model:       m.Model,
		Author:      author,
		Attachments: m.Attachments,
	}); !ok {
		return domain.NewError(domain.ErrorKindTransient, "no sandbox socket connected to dispatch to")
	}
	c.hub.Broadcast(processingStatusFrame(true))
	return nil
}
