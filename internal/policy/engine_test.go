package policy

import (
	"context"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEvaluateArchiveByOwnerIsAllowed(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Evaluate(context.Background(), Input{Operation: "archive", Role: "owner", ParticipantID: "u1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d != DecisionAllow {
		t.Fatalf("expected allow, got %s", d)
	}
}

func TestEvaluateArchiveByMemberRequiresApproval(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Evaluate(context.Background(), Input{Operation: "archive", Role: "member", ParticipantID: "u1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d != DecisionRequireApproval {
		t.Fatalf("expected require_approval, got %s", d)
	}
}

func TestEvaluatePushByAnyRoleIsAllowed(t *testing.T) {
	e := newTestEngine(t)
	for _, role := range []string{"owner", "member", ""} {
		d, err := e.Evaluate(context.Background(), Input{Operation: "push", Role: role})
		if err != nil {
			t.Fatalf("Evaluate(role=%s): %v", role, err)
		}
		if d != DecisionAllow {
			t.Fatalf("role %s: expected allow, got %s", role, d)
		}
	}
}

func TestEvaluateStopIsAlwaysAllowed(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Evaluate(context.Background(), Input{Operation: "stop", Role: "member"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d != DecisionAllow {
		t.Fatalf("expected allow, got %s", d)
	}
}

func TestEvaluateUnknownOperationDefaultsToAllow(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Evaluate(context.Background(), Input{Operation: "teleport", Role: "member"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d != DecisionAllow {
		t.Fatalf("expected allow, got %s", d)
	}
}

func TestNewEngineRejectsInvalidRego(t *testing.T) {
	if _, err := NewEngine(context.Background(), "not valid rego"); err == nil {
		t.Fatal("expected an error compiling an invalid policy module")
	}
}
