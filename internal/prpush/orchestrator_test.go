package prpush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/policy"
	"github.com/sessioncoordinator/coordinator/internal/store"
	"github.com/sessioncoordinator/coordinator/internal/vcshost"
)

// fakeSender records every command sent to the sandbox and lets tests
// resolve or withhold the push on their own schedule.
type fakeSender struct {
	available bool
	sent      chan interface{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{available: true, sent: make(chan interface{}, 4)}
}

func (f *fakeSender) SendToSandbox(cmd interface{}) bool {
	if !f.available {
		return false
	}
	f.sent <- cmd
	return true
}

func testCipher(t *testing.T) *cryptoutil.TokenCipher {
	t.Helper()
	c, err := cryptoutil.NewTokenCipher([]byte("01234567890123456789012345678901"))
	require.NoError(t, err)
	return c
}

func seedSessionAndParticipant(t *testing.T, st store.Store, cipher *cryptoutil.TokenCipher) (*domain.Session, *domain.Message) {
	t.Helper()
	ctx := context.Background()

	enc, err := cipher.Encrypt("gh-user-token")
	require.NoError(t, err)

	require.NoError(t, st.UpsertParticipant(ctx, &domain.Participant{
		ID: "author-1", UserID: "u1", Role: domain.ParticipantRoleOwner,
		EncryptedToken: enc, JoinedAt: 1,
	}))

	session := &domain.Session{
		ID: "sess-1", SessionName: "sess-1", RepoOwner: "acme", RepoName: "widgets",
		Status: domain.SessionStatusActive, CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, st.CreateSession(ctx, session))

	msg := &domain.Message{
		ID: "msg-1", AuthorID: "author-1", Content: "do the thing",
		Source: domain.MessageSourceWeb, Status: domain.MessageStatusProcessing, CreatedAt: 1,
	}
	require.NoError(t, st.CreateMessage(ctx, msg))
	require.NoError(t, st.UpdateMessageStatus(ctx, msg.ID, domain.MessageStatusProcessing, 1, 0))

	return session, msg
}

func newTestVCS(t *testing.T, handler http.HandlerFunc) *vcshost.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return vcshost.NewClient(server.URL, nil, "")
}

func TestRequestPRSucceedsAfterPushComplete(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cipher := testCipher(t)
	session, _ := seedSessionAndParticipant(t, st, cipher)

	vcs := newTestVCS(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(vcshost.RepoInfo{DefaultBranch: "main", FullName: "acme/widgets"})
		case r.URL.Path == "/repos/acme/widgets/pulls":
			json.NewEncoder(w).Encode(vcshost.PullRequest{Number: 7, HTMLURL: "https://example.com/pr/7", State: "open"})
		}
	})

	sender := newFakeSender()
	orch := New(st, sender, vcs, cipher, nil, time.Second)

	done := make(chan struct{})
	var pr *vcshost.PullRequest
	var prErr error
	go func() {
		pr, prErr = orch.RequestPR(ctx, session)
		close(done)
	}()

	<-sender.sent
	branch := BranchNameForSession(session.ID)
	orch.ResolvePushComplete(branch)

	<-done
	require.NoError(t, prErr)
	require.NotNil(t, pr)
	require.Equal(t, 7, pr.Number)
}

func TestRequestPRFailsWhenPushErrors(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cipher := testCipher(t)
	session, _ := seedSessionAndParticipant(t, st, cipher)

	vcs := newTestVCS(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(vcshost.RepoInfo{DefaultBranch: "main"})
	})

	sender := newFakeSender()
	orch := New(st, sender, vcs, cipher, nil, time.Second)

	done := make(chan struct{})
	var prErr error
	go func() {
		_, prErr = orch.RequestPR(ctx, session)
		close(done)
	}()

	<-sender.sent
	orch.ResolvePushError(BranchNameForSession(session.ID), "remote rejected ref")

	<-done
	require.Error(t, prErr)
}

func TestRequestPRTimesOutWhenSandboxNeverReports(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cipher := testCipher(t)
	session, _ := seedSessionAndParticipant(t, st, cipher)

	vcs := newTestVCS(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(vcshost.RepoInfo{DefaultBranch: "main"})
	})

	sender := newFakeSender()
	orch := New(st, sender, vcs, cipher, nil, 30*time.Millisecond)

	_, err = orch.RequestPR(ctx, session)
	require.Error(t, err)

	// the pending entry must have been cleaned up, not leaked
	orch.mu.Lock()
	_, stillPending := orch.pending[normalizeBranch(BranchNameForSession(session.ID))]
	orch.mu.Unlock()
	require.False(t, stillPending)
}

func TestRequestPRFailsWithNoSandboxConnected(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cipher := testCipher(t)
	session, _ := seedSessionAndParticipant(t, st, cipher)

	vcs := newTestVCS(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(vcshost.RepoInfo{DefaultBranch: "main"})
	})

	sender := newFakeSender()
	sender.available = false
	orch := New(st, sender, vcs, cipher, nil, time.Second)

	_, err = orch.RequestPR(ctx, session)
	require.Error(t, err)
}

func TestRequestPRRejectedWithNoProcessingMessage(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cipher := testCipher(t)
	session := &domain.Session{ID: "sess-2", SessionName: "sess-2", RepoOwner: "acme", RepoName: "widgets", Status: domain.SessionStatusActive, CreatedAt: 1, UpdatedAt: 1}
	require.NoError(t, st.CreateSession(ctx, session))

	sender := newFakeSender()
	orch := New(st, sender, nil, cipher, nil, time.Second)

	_, err = orch.RequestPR(ctx, session)
	require.Error(t, err)
}

func TestRequestPRBlockedByPolicy(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cipher := testCipher(t)
	session, msg := seedSessionAndParticipant(t, st, cipher)
	require.NotNil(t, msg)
	// override the seeded owner with a member so the member-blocking policy below fires
	require.NoError(t, st.UpsertParticipant(ctx, &domain.Participant{
		ID: "author-1", UserID: "u1", Role: domain.ParticipantRoleMember,
		EncryptedToken: mustEncrypt(t, cipher, "gh-user-token"), JoinedAt: 1,
	}))

	gate, err := policy.NewEngine(ctx, `
package session_policy

default decision = "allow"

decision = "block" {
	input.operation == "push"
	input.role == "member"
}
`)
	require.NoError(t, err)

	vcs := newTestVCS(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(vcshost.RepoInfo{DefaultBranch: "main"})
	})

	sender := newFakeSender()
	orch := New(st, sender, vcs, cipher, gate, time.Second)

	_, err = orch.RequestPR(ctx, session)
	require.Error(t, err)
	select {
	case <-sender.sent:
		t.Fatal("push command should never have been sent once policy blocked the operation")
	default:
	}
}

func mustEncrypt(t *testing.T, cipher *cryptoutil.TokenCipher, plaintext string) []byte {
	t.Helper()
	enc, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	return enc
}

func TestResolvePushCompleteIsNoOpWithoutPending(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	orch := New(st, newFakeSender(), nil, testCipher(t), nil, time.Second)
	orch.ResolvePushComplete("coordinator/session-ghost")
}
