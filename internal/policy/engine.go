// Package policy gates sensitive session operations (session archive and
// unarchive, PR push) behind a small Rego policy, evaluated per call rather
// than hardcoded into the call sites. Sandbox stop does not consult it.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the outcome of evaluating a policy input.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionBlock           Decision = "block"
)

// Engine wraps a prepared Rego query against a loaded policy module.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles policyContent (a single Rego module) and prepares it
// for repeated evaluation.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.session_policy.decision"),
		rego.Module("session_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy: %w", err)
	}
	return &Engine{query: query}, nil
}

// Input describes the gated operation. Fields beyond the ones the default
// policy reads are accepted so a deployment-specific policy can key off
// more context without a code change here.
type Input struct {
	Operation     string `json:"operation"` // "push", "stop", "archive"
	Role          string `json:"role"`
	ParticipantID string `json:"participant_id"`
}

// Evaluate runs the policy against in and returns its decision. A policy
// that yields no result, or a non-string result, defaults to allow —
// the module is expected to declare its own `default decision`.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return Decision(s), nil
	}
	return DecisionAllow, nil
}

// DefaultPolicy is the Rego module cmd/coordinatord loads; there is no
// setting that replaces it. Pushing is open to any participant;
// archiving a session requires owner approval.
const DefaultPolicy = `
package session_policy

default decision = "allow"

decision = "require_approval" {
	input.operation == "archive"
	input.role != "owner"
}
`
