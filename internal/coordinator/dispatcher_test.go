package coordinator

import (
	"context"
	"testing"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
)

func TestHandlePromptEnqueuesAndBroadcasts(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)

	if err := c.HandlePrompt(context.Background(), "p1", protocol.PromptFrame{Content: "build it"}); err != nil {
		t.Fatalf("handle prompt: %v", err)
	}
	msgs, _, _, err := c.ListMessages(context.Background(), "", 10, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "build it" {
		t.Fatalf("expected the prompt frame to be enqueued, got %+v", msgs)
	}
}

func TestHandlePromptRejectsEmptyContent(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)
	if err := c.HandlePrompt(context.Background(), "p1", protocol.PromptFrame{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestHandleStopDelegatesToCoordinatorStop(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)
	if err := c.HandleStop(context.Background(), "p1"); err != nil {
		t.Fatalf("handle stop: %v", err)
	}
}

func TestSessionSnapshotReturnsParticipantView(t *testing.T) {
	c := newTestCoordinator(t)
	sess := createTestSession(t, c)
	p, err := c.AddParticipant(context.Background(), AddParticipantRequest{UserID: "u1", GitHubLogin: "octocat"})
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}

	snapshot, err := c.SessionSnapshot(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("session snapshot: %v", err)
	}
	if snapshot.SessionID != sess.ID {
		t.Fatalf("expected session id %s, got %s", sess.ID, snapshot.SessionID)
	}
	if snapshot.Participant == nil || snapshot.Participant.GitHubLogin != "octocat" {
		t.Fatalf("expected participant view to carry the GitHub login, got %+v", snapshot.Participant)
	}
}

func TestHandleSandboxConnectedRequiresSandboxRow(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)
	if err := c.HandleSandboxConnected(context.Background()); err == nil {
		t.Fatal("expected an error connecting with no sandbox row")
	}
}

func TestHandleSandboxConnectedMarksReady(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}

	if err := c.HandleSandboxConnected(context.Background()); err != nil {
		t.Fatalf("handle sandbox connected: %v", err)
	}
	sb, err := c.life.Current(context.Background())
	if err != nil {
		t.Fatalf("current sandbox: %v", err)
	}
	if sb == nil || sb.Status != domain.SandboxStatusReady {
		t.Fatalf("expected sandbox to be ready, got %+v", sb)
	}
}
