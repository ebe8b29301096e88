package coordinator

import (
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
)

// notifier adapts *Coordinator to lifecycle.Notifier so the lifecycle
// package never has to import coordinator. It is a distinct named type
// rather than a method set on Coordinator itself, so Coordinator's own
// public surface stays free of lifecycle-specific method names.
type notifier Coordinator

func (n *notifier) asCoordinator() *Coordinator {
	return (*Coordinator)(n)
}

// BroadcastSandboxStatus fans a lifecycle transition out to every
// connected client. The three transient stages each carry their own
// frame type; everything else rides the generic sandbox_status frame.
func (n *notifier) BroadcastSandboxStatus(status domain.SandboxStatus) {
	c := n.asCoordinator()
	switch status {
	case domain.SandboxStatusWarming:
		c.hub.Broadcast(protocol.SandboxStatusFrame{Type: protocol.TypeSandboxWarming})
	case domain.SandboxStatusSpawning:
		c.hub.Broadcast(protocol.SandboxStatusFrame{Type: protocol.TypeSandboxSpawning})
	case domain.SandboxStatusReady:
		c.hub.Broadcast(protocol.SandboxStatusFrame{Type: protocol.TypeSandboxReady})
	default:
		c.hub.Broadcast(protocol.SandboxStatusFrame{Type: protocol.TypeSandboxStatus, Status: string(status)})
	}
}

func (n *notifier) BroadcastSnapshotSaved(imageID, reason string) {
	n.asCoordinator().hub.Broadcast(protocol.SnapshotSavedFrame{
		Type:    protocol.TypeSnapshotSaved,
		ImageID: imageID,
		Reason:  reason,
	})
}

func (n *notifier) BroadcastSandboxError(message string) {
	n.asCoordinator().hub.Broadcast(protocol.SandboxErrorFrame{
		Type:    protocol.TypeSandboxError,
		Message: message,
	})
}

func (n *notifier) BroadcastSandboxRestored() {
	n.asCoordinator().hub.Broadcast(protocol.SandboxStatusFrame{Type: protocol.TypeSandboxRestored})
}

func (n *notifier) HasActiveClients() bool {
	return n.asCoordinator().hub.HasActiveClients()
}

func (n *notifier) SendStopToSandbox() bool {
	return n.asCoordinator().hub.SendToSandbox(protocol.SandboxStopCommand{Type: protocol.TypeSandboxStop})
}
