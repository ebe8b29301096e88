package coordinator

import (
	"context"
	"testing"
)

func TestRequestPRRejectsWithNoProcessingMessage(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)

	if _, err := c.RequestPR(context.Background()); err == nil {
		t.Fatal("expected an error when no message is processing")
	}
}

func TestRequestPRRejectsAuthorWithNoLinkedToken(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)

	p, err := c.AddParticipant(context.Background(), AddParticipantRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}
	m, _, err := c.EnqueuePrompt(context.Background(), EnqueuePromptRequest{AuthorID: p.ID, Content: "go"})
	if err != nil {
		t.Fatalf("enqueue prompt: %v", err)
	}
	// Force the message into processing directly; the queue itself only gets
	// there once a sandbox is ready, which is out of scope for this test.
	if err := c.queue.MarkProcessing(context.Background(), m.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	if _, err := c.RequestPR(context.Background()); err == nil {
		t.Fatal("expected an error when the prompting participant has no linked access token")
	}
}
