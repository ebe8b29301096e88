// Package prpush orchestrates the request/response round trip between a
// PR request and the sandbox's asynchronous git push: it mints a scoped
// installation token, asks the sandbox to push over its WebSocket, waits
// for push_complete or push_error, and only then opens the pull request
// under the prompting user's own identity.
package prpush

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/policy"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
	"github.com/sessioncoordinator/coordinator/internal/store"
	"github.com/sessioncoordinator/coordinator/internal/vcshost"
)

// Sender is the narrow sandbox-socket capability the orchestrator needs;
// satisfied by *hub.Hub.
type Sender interface {
	SendToSandbox(cmd interface{}) bool
}

type pendingPush struct {
	resultCh chan error
}

// Orchestrator runs one session's push-then-PR sequence at a time. Only
// one push can be pending per branch name, which in practice means only
// one pending push per session, since the branch name is a deterministic
// function of the session id.
type Orchestrator struct {
	store   store.Store
	sender  Sender
	vcs     *vcshost.Client
	cipher  *cryptoutil.TokenCipher
	gate    *policy.Engine
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingPush
}

// New builds an Orchestrator. timeout bounds how long RequestPR waits for
// the sandbox to report push_complete or push_error. gate may be nil, in
// which case the policy check is skipped (tests, or a deployment that
// hasn't configured a policy module).
func New(st store.Store, sender Sender, vcs *vcshost.Client, cipher *cryptoutil.TokenCipher, gate *policy.Engine, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:   st,
		sender:  sender,
		vcs:     vcs,
		cipher:  cipher,
		gate:    gate,
		timeout: timeout,
		pending: make(map[string]*pendingPush),
	}
}

func normalizeBranch(b string) string {
	return strings.ToLower(strings.TrimSpace(b))
}

// BranchNameForSession computes the per-session push branch deterministically,
// so a retried PR request and the event that resolves it always agree on a
// key without either side needing to generate or exchange one.
func BranchNameForSession(sessionID string) string {
	return "coordinator/session-" + sessionID
}

// RequestPR runs the full push-then-create-PR sequence. The invoking
// message must correspond to the Message currently in processing; PR
// requests outside an active turn are rejected.
func (o *Orchestrator) RequestPR(ctx context.Context, session *domain.Session) (*vcshost.PullRequest, error) {
	msg, err := o.store.GetProcessingMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load processing message: %w", err)
	}
	if msg == nil {
		return nil, domain.NewError(domain.ErrorKindLogical, "a pull request can only be requested while a message is processing")
	}

	participant, err := o.store.GetParticipant(ctx, msg.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompting participant: %w", err)
	}
	if participant == nil || len(participant.EncryptedToken) == 0 {
		return nil, domain.NewError(domain.ErrorKindUnauthenticated, "prompting participant has no linked access token")
	}
	if participant.TokenExpiresAt != 0 && participant.TokenExpiresAt < time.Now().UnixMilli() {
		return nil, domain.NewError(domain.ErrorKindUnauthenticated, "prompting participant's access token has expired")
	}
	userToken, err := o.cipher.Decrypt(participant.EncryptedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt prompting participant's access token: %w", err)
	}

	if o.gate != nil {
		decision, err := o.gate.Evaluate(ctx, policy.Input{
			Operation:     "push",
			Role:          string(participant.Role),
			ParticipantID: participant.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate push policy: %w", err)
		}
		if decision != policy.DecisionAllow {
			return nil, domain.NewError(domain.ErrorKindUnauthorized, "push blocked by policy: "+string(decision))
		}
	}

	repo, err := o.vcs.GetRepo(ctx, userToken, session.RepoOwner, session.RepoName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository metadata: %w", err)
	}

	installTok, err := o.vcs.MintInstallationToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to mint installation token: %w", err)
	}

	branch := BranchNameForSession(session.ID)
	if err := o.push(ctx, branch, session.RepoOwner, session.RepoName, installTok.Token); err != nil {
		return nil, err
	}

	pr, err := o.vcs.CreatePR(ctx, userToken, session.RepoOwner, session.RepoName, vcshost.CreatePRRequest{
		Title: fmt.Sprintf("Session %s", session.SessionName),
		Head:  branch,
		Base:  repo.DefaultBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	return pr, nil
}

// push sends the push command to the sandbox socket and blocks until the
// matching push_complete/push_error event resolves it, the configured
// timeout elapses, or ctx is cancelled. The pending entry is always
// cleaned up, on every exit path, so a timed-out push never leaks.
func (o *Orchestrator) push(ctx context.Context, branchName, owner, repo, token string) error {
	key := normalizeBranch(branchName)
	pending := &pendingPush{resultCh: make(chan error, 1)}

	o.mu.Lock()
	o.pending[key] = pending
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.pending, key)
		o.mu.Unlock()
	}()

	if ok := o.sender.SendToSandbox(protocol.SandboxPushCommand{
		Type:        protocol.TypeSandboxPush,
		BranchName:  branchName,
		RepoOwner:   owner,
		RepoName:    repo,
		GitHubToken: token,
	}); !ok {
		return domain.NewError(domain.ErrorKindTransient, "no sandbox socket connected to push over")
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case err := <-pending.resultCh:
		return err
	case <-timer.C:
		return domain.NewError(domain.ErrorKindTransient, "timed out waiting for sandbox to report push completion")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolvePushComplete resolves the pending push for branchName as
// successful. Called from the sandbox event-dispatch path when a
// push_complete event arrives; a no-op if nothing is pending under that
// branch (a late or duplicate event).
func (o *Orchestrator) ResolvePushComplete(branchName string) {
	o.resolve(branchName, nil)
}

// ResolvePushError resolves the pending push for branchName as failed.
func (o *Orchestrator) ResolvePushError(branchName, reason string) {
	o.resolve(branchName, domain.NewError(domain.ErrorKindPermanent, "sandbox push failed: "+reason))
}

func (o *Orchestrator) resolve(branchName string, err error) {
	key := normalizeBranch(branchName)
	o.mu.Lock()
	pending, ok := o.pending[key]
	o.mu.Unlock()
	if !ok {
		return
	}
	select {
	case pending.resultCh <- err:
	default:
	}
}
