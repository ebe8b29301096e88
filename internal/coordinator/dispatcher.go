package coordinator

import (
	"context"
	"fmt"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
)

// HandlePrompt implements hub.Dispatcher. It is the WebSocket path into the
// same enqueue logic POST /sessions/:id/prompt uses.
func (c *Coordinator) HandlePrompt(ctx context.Context, participantID string, frame protocol.PromptFrame) error {
	m, position, err := c.EnqueuePrompt(ctx, EnqueuePromptRequest{
		AuthorID:    participantID,
		Content:     frame.Content,
		Source:      domain.MessageSourceWeb,
		Model:       frame.Model,
		Attachments: frame.Attachments,
	})
	if err != nil {
		return err
	}
	// Queue position acknowledgement is session-wide rather than
	// per-client, since the hub only exposes broadcast and every connected
	// client of this session shares the same queue state.
	return c.hub.Broadcast(protocol.PromptQueuedFrame{
		Type:      protocol.TypePromptQueued,
		MessageID: m.ID,
		Position:  position,
	})
}

// HandleStop implements hub.Dispatcher.
func (c *Coordinator) HandleStop(ctx context.Context, participantID string) error {
	return c.Stop(ctx)
}

// HandlePresence implements hub.Dispatcher. Presence is fan-out only; it
// is never persisted, so failures have nothing to roll back.
func (c *Coordinator) HandlePresence(ctx context.Context, participantID string, frame protocol.PresenceFrame) {
	c.hub.Broadcast(protocol.PresenceUpdateFrame{
		Type:          protocol.TypePresenceUpdate,
		ParticipantID: participantID,
		Status:        frame.Status,
	})
}

// SessionSnapshot implements hub.Dispatcher, building the state a freshly
// subscribed client needs to render immediately.
func (c *Coordinator) SessionSnapshot(ctx context.Context, participantID string) (*protocol.SubscribedFrame, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	return &protocol.SubscribedFrame{
		Type:          protocol.TypeSubscribed,
		SessionID:     sess.ID,
		State:         string(sess.Status),
		ParticipantID: participantID,
		Participant:   participantView(p),
	}, nil
}

// HandleSandboxConnected implements hub.Dispatcher.
func (c *Coordinator) HandleSandboxConnected(ctx context.Context) error {
	sb, err := c.life.Current(ctx)
	if err != nil {
		return err
	}
	if sb == nil {
		return domain.NewError(domain.ErrorKindLogical, "sandbox socket connected with no sandbox row")
	}
	return c.life.MarkConnected(ctx, sb.ID)
}
