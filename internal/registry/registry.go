// Package registry is the routing layer that maps a stable session_id to
// exactly one coordinator.Coordinator instance, lazily constructing it
// (and its backing SQLite file) on first use and reusing it for the
// lifetime of the process. Each session's state lives in its own database
// file, so evicting an idle coordinator is never a consistency concern —
// the next request for that id just reopens the file.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/coordinator"
	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/hub"
	"github.com/sessioncoordinator/coordinator/internal/lifecycle"
	"github.com/sessioncoordinator/coordinator/internal/policy"
	"github.com/sessioncoordinator/coordinator/internal/sandboxclient"
	"github.com/sessioncoordinator/coordinator/internal/store"
	"github.com/sessioncoordinator/coordinator/internal/vcshost"
)

// CommonDeps holds the collaborators shared by every session's coordinator:
// stateless clients and process-wide secrets. Only the store is
// session-specific, and the registry supplies that itself.
type CommonDeps struct {
	Provider    *sandboxclient.Client
	VCS         *vcshost.Client
	Cipher      *cryptoutil.TokenCipher
	Gate        *policy.Engine
	Lifecycle   lifecycle.Config
	WS          hub.Config
	PushTimeout time.Duration
}

// Registry owns every live Coordinator in this process, keyed by session id.
type Registry struct {
	dataDir string
	deps    CommonDeps

	mu   sync.Mutex
	byID map[string]*coordinator.Coordinator
}

// New builds a Registry rooted at dataDir, creating the directory if it
// does not already exist.
func New(dataDir string, deps CommonDeps) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Registry{
		dataDir: dataDir,
		deps:    deps,
		byID:    make(map[string]*coordinator.Coordinator),
	}, nil
}

// NewSessionID mints the id a caller should use for a brand-new session,
// before a Coordinator for it exists.
func (r *Registry) NewSessionID() string {
	return coordinator.NewID()
}

func (r *Registry) dbPath(id string) string {
	return filepath.Join(r.dataDir, id+".db")
}

// Exists reports whether a session database file is already on disk,
// without opening (and thus caching) a Coordinator for it.
func (r *Registry) Exists(id string) bool {
	_, err := os.Stat(r.dbPath(id))
	return err == nil
}

// Get returns the Coordinator for id, opening its database file (and
// running migrations) on first use. The returned Coordinator may not have
// a session row yet — callers that require one should call GetSession and
// handle the not-found error.
func (r *Registry) Get(id string) (*coordinator.Coordinator, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok {
		return c, nil
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_foreign_keys=on", r.dbPath(id))
	st, err := store.NewSQLiteStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	c := coordinator.New(coordinator.Deps{
		Store:       st,
		Provider:    r.deps.Provider,
		VCS:         r.deps.VCS,
		Cipher:      r.deps.Cipher,
		Gate:        r.deps.Gate,
		Lifecycle:   r.deps.Lifecycle,
		WS:          r.deps.WS,
		PushTimeout: r.deps.PushTimeout,
	})
	r.byID[id] = c
	return c, nil
}

// Evict closes and drops a Coordinator from the in-memory cache, without
// touching its database file. The next Get for the same id reopens it from
// disk, recovering exactly the state that was last persisted.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	c, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// sessionIDsOnDisk lists every session id with a database file, regardless
// of whether its Coordinator is currently loaded in memory.
func (r *Registry) sessionIDsOnDisk() ([]string, error) {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".db"))
	}
	sort.Strings(ids)
	return ids, nil
}

// ListSessions loads every persisted session's state. Each one lives in its
// own file, so listing means opening every file's Coordinator (which Get
// caches for reuse) rather than a single paginated query; cursor and limit
// are applied across the sorted id list before any file is touched.
func (r *Registry) ListSessions(ctx context.Context, cursor string, limit int) ([]domain.Session, string, bool, error) {
	ids, err := r.sessionIDsOnDisk()
	if err != nil {
		return nil, "", false, err
	}

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if limit <= 0 {
		limit = 50
	}

	sessions := make([]domain.Session, 0, limit)
	var nextCursor string
	hasMore := false
	for i := start; i < len(ids) && len(sessions) < limit; i++ {
		c, err := r.Get(ids[i])
		if err != nil {
			continue
		}
		sess, err := c.GetSession(ctx)
		if err != nil {
			continue
		}
		sessions = append(sessions, *sess)
		nextCursor = ids[i]
	}
	if start+len(sessions) < len(ids) {
		hasMore = true
	}
	return sessions, nextCursor, hasMore, nil
}
