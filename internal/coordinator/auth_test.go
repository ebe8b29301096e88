package coordinator

import (
	"context"
	"testing"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

func TestValidateSandboxTokenNoSandbox(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)

	ok, err := c.ValidateSandboxToken(context.Background(), "anything")
	if err != nil {
		t.Fatalf("validate sandbox token: %v", err)
	}
	if ok {
		t.Fatal("expected no sandbox to mean no valid token")
	}
}

func TestValidateSandboxTokenMismatch(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}

	ok, err := c.ValidateSandboxToken(context.Background(), "wrong-token")
	if err != nil {
		t.Fatalf("validate sandbox token: %v", err)
	}
	if ok {
		t.Fatal("expected a mismatched token to be rejected")
	}
}

func TestValidateSandboxTokenRejectsStoppedSandbox(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	sb, err := c.life.Current(context.Background())
	if err != nil {
		t.Fatalf("current sandbox: %v", err)
	}
	if sb == nil {
		t.Fatal("expected a sandbox row after warming")
	}
	if err := c.life.Stop(context.Background(), sb.ID); err != nil {
		t.Fatalf("stop sandbox: %v", err)
	}

	ok, err := c.ValidateSandboxToken(context.Background(), sb.AuthToken)
	if err != nil {
		t.Fatalf("validate sandbox token: %v", err)
	}
	if ok {
		t.Fatal("expected a stopped sandbox's token to be rejected")
	}
}

func TestValidateSandboxTokenAcceptsMatchingLiveSandbox(t *testing.T) {
	c := newTestCoordinator(t)
	createTestSession(t, c)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	sb, err := c.life.Current(context.Background())
	if err != nil {
		t.Fatalf("current sandbox: %v", err)
	}
	if sb == nil || sb.Status == domain.SandboxStatusStopped {
		t.Fatalf("expected a live sandbox, got %+v", sb)
	}

	ok, err := c.ValidateSandboxToken(context.Background(), sb.AuthToken)
	if err != nil {
		t.Fatalf("validate sandbox token: %v", err)
	}
	if !ok {
		t.Fatal("expected a matching token on a non-terminal sandbox to be accepted")
	}
}
