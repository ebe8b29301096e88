// Package coordinator is the per-session actor/façade: it binds the store,
// the sandbox lifecycle manager, the prompt queue, the WebSocket hub, and
// the PR/push orchestrator behind the session's public operations, and
// implements the interfaces each of those packages expects from its host
// so none of them import this one back.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/hub"
	"github.com/sessioncoordinator/coordinator/internal/lifecycle"
	"github.com/sessioncoordinator/coordinator/internal/policy"
	"github.com/sessioncoordinator/coordinator/internal/prpush"
	"github.com/sessioncoordinator/coordinator/internal/queue"
	"github.com/sessioncoordinator/coordinator/internal/sandboxclient"
	"github.com/sessioncoordinator/coordinator/internal/store"
	"github.com/sessioncoordinator/coordinator/internal/vcshost"
)

// Coordinator is the single-threaded actor owning one session's state.
// Every exported method executes to completion before another begins —
// callers are expected to run behind a per-session mutex in the transport
// layer (internal/httpapi), matching the one-request-at-a-time model.
type Coordinator struct {
	store    store.Store
	hub      *hub.Hub
	wsServer *hub.Server
	queue    *queue.Engine
	life     *lifecycle.Manager
	push     *prpush.Orchestrator
	vcs      *vcshost.Client
	gate     *policy.Engine
	cipher   *cryptoutil.TokenCipher
}

// Deps bundles the collaborators New needs to construct a Coordinator.
// Everything here is either owned exclusively by this session (store, hub)
// or stateless/shared across sessions (vcs, cipher, gate).
type Deps struct {
	Store       store.Store
	Provider    *sandboxclient.Client
	VCS         *vcshost.Client
	Cipher      *cryptoutil.TokenCipher
	Gate        *policy.Engine
	Lifecycle   lifecycle.Config
	WS          hub.Config
	PushTimeout time.Duration
}

// New wires a Coordinator for one session. The session's repo identity is
// read from the store here and handed to the lifecycle manager; it is empty
// when CreateSession has not run yet, and CreateSession later sets it via
// the lifecycle manager's SetRepoIdentity.
func New(deps Deps) *Coordinator {
	h := hub.NewHub()
	c := &Coordinator{
		store:  deps.Store,
		hub:    h,
		vcs:    deps.VCS,
		gate:   deps.Gate,
		cipher: deps.Cipher,
	}

	repoOwner, repoName, repoDefaultBranch := c.repoIdentity(context.Background())
	c.life = lifecycle.New(deps.Store, deps.Provider, (*notifier)(c), deps.Lifecycle, repoOwner, repoName, repoDefaultBranch)
	c.queue = queue.New(deps.Store, c.sandboxReady, c.life.Spawn, c.dispatchToSandbox)
	c.push = prpush.New(deps.Store, h, deps.VCS, deps.Cipher, deps.Gate, deps.PushTimeout)
	c.wsServer = hub.NewServer(h, deps.Store, c, deps.WS)

	return c
}

// currentSession returns the coordinator's singleton session row, or nil
// if CreateSession has not run yet. There is at most one row per store, so
// a page of size 1 always finds it if it exists.
func (c *Coordinator) currentSession(ctx context.Context) (*domain.Session, error) {
	sessions, _, _, err := c.store.ListSessions(ctx, "", 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// repoIdentity reads the session's repo coordinates for the lifecycle
// manager's sandbox-create requests; it returns empty strings if the
// session has not been created yet, which is harmless since no sandbox can
// spawn before then.
func (c *Coordinator) repoIdentity(ctx context.Context) (owner, name, defaultBranch string) {
	sess, err := c.currentSession(ctx)
	if err != nil || sess == nil {
		return "", "", ""
	}
	return sess.RepoOwner, sess.RepoName, sess.RepoDefaultBranch
}

func (c *Coordinator) sandboxReady(ctx context.Context) (bool, error) {
	return c.life.IsUsable(ctx)
}

// Hub exposes the WebSocket hub so the HTTP layer can register socket
// upgrade handlers against it.
func (c *Coordinator) Hub() *hub.Hub { return c.hub }

// WSServer exposes the upgrade/pump server bound to this coordinator's hub,
// so the HTTP layer can route /ws requests without reaching into the hub's
// internals itself.
func (c *Coordinator) WSServer() *hub.Server { return c.wsServer }

// Close releases the session's store handle.
func (c *Coordinator) Close() error {
	return c.store.Close()
}

// NewID mints an opaque 128-bit random identifier rendered as lowercase
// hex, the id format used throughout the data model. It is exported so the
// registry can pre-assign a session's routing id before the session row
// (and its Coordinator) exist.
func NewID() string {
	return newID()
}

// newID mints an opaque 128-bit random identifier rendered as lowercase
// hex, the id format used throughout the data model.
func newID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(fmt.Sprintf("fallback-%d", time.Now().UnixNano())))
	}
	return hex.EncodeToString(buf)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
