package hub

import (
	"context"
	"encoding/json"

	"github.com/sessioncoordinator/coordinator/internal/protocol"
)

// Dispatcher is the business logic the hub calls into once a frame has been
// parsed and, for client frames, authenticated. The coordinator implements
// this; the hub itself only owns socket bookkeeping and the client
// authentication handshake described directly against the store.
type Dispatcher interface {
	// HandlePrompt enqueues a prompt authored by participantID.
	HandlePrompt(ctx context.Context, participantID string, frame protocol.PromptFrame) error
	// HandleStop forwards a stop request for the session's running message.
	HandleStop(ctx context.Context, participantID string) error
	// HandlePresence records a presence update from participantID.
	HandlePresence(ctx context.Context, participantID string, frame protocol.PresenceFrame)
	// SessionSnapshot builds the subscribed-frame payload for a freshly
	// authenticated (or re-authenticated) client.
	SessionSnapshot(ctx context.Context, participantID string) (*protocol.SubscribedFrame, error)
	// HandleSandboxEvent processes one event carried inside a sandbox_event
	// envelope, identified by its inner type.
	HandleSandboxEvent(ctx context.Context, eventType string, raw json.RawMessage) error
	// HandleSandboxConnected is called once a sandbox socket finishes its
	// handshake, before any events have been read from it.
	HandleSandboxConnected(ctx context.Context) error
}
