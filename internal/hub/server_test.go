package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
	"github.com/sessioncoordinator/coordinator/internal/store"
)

type fakeDispatcher struct {
	prompts []string
	stopped bool
}

func (f *fakeDispatcher) HandlePrompt(ctx context.Context, participantID string, frame protocol.PromptFrame) error {
	f.prompts = append(f.prompts, participantID+":"+frame.Content)
	return nil
}
func (f *fakeDispatcher) HandleStop(ctx context.Context, participantID string) error {
	f.stopped = true
	return nil
}
func (f *fakeDispatcher) HandlePresence(ctx context.Context, participantID string, frame protocol.PresenceFrame) {}
func (f *fakeDispatcher) SessionSnapshot(ctx context.Context, participantID string) (*protocol.SubscribedFrame, error) {
	return &protocol.SubscribedFrame{State: "ready"}, nil
}
func (f *fakeDispatcher) HandleSandboxEvent(ctx context.Context, eventType string, raw json.RawMessage) error {
	return nil
}
func (f *fakeDispatcher) HandleSandboxConnected(ctx context.Context) error { return nil }

func testConfig() Config {
	return Config{
		AuthTimeout:    100 * time.Millisecond,
		PingInterval:   time.Minute,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Minute,
		MaxMessageSize: 65536,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *fakeDispatcher, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := NewHub()
	disp := &fakeDispatcher{}
	srv := NewServer(h, st, disp, testConfig())

	e := echo.New()
	e.GET("/ws", srv.HandleClientSocket)
	e.GET("/sandbox", srv.HandleSandboxSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, h, disp, st
}

func dialClient(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws
}

func TestSubscribeWithValidTokenSucceeds(t *testing.T) {
	ts, _, _, st := newTestServer(t)
	ctx := context.Background()

	token := "client-token-1"
	participant := &domain.Participant{
		ID:              "p1",
		UserID:          "u1",
		Role:            domain.ParticipantRoleOwner,
		WSAuthTokenHash: cryptoutil.HashWSToken(token),
		JoinedAt:        1,
	}
	require.NoError(t, st.UpsertParticipant(ctx, participant))

	ws := dialClient(t, ts)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(protocol.SubscribeFrame{Type: protocol.TypeSubscribe, Token: token, ClientID: "c1"}))

	var resp protocol.SubscribedFrame
	require.NoError(t, ws.ReadJSON(&resp))
	require.Equal(t, protocol.TypeSubscribed, resp.Type)
	require.Equal(t, "p1", resp.ParticipantID)
}

func TestSubscribeWithInvalidTokenCloses(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	ws := dialClient(t, ts)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(protocol.SubscribeFrame{Type: protocol.TypeSubscribe, Token: "nope", ClientID: "c1"}))

	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, protocol.CloseInvalidAuth, closeErr.Code)
}

func TestPingReceivesPong(t *testing.T) {
	ts, _, _, st := newTestServer(t)
	ctx := context.Background()

	token := "client-token-2"
	require.NoError(t, st.UpsertParticipant(ctx, &domain.Participant{
		ID: "p2", UserID: "u2", Role: domain.ParticipantRoleMember,
		WSAuthTokenHash: cryptoutil.HashWSToken(token), JoinedAt: 1,
	}))

	ws := dialClient(t, ts)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(protocol.SubscribeFrame{Type: protocol.TypeSubscribe, Token: token}))
	var sub protocol.SubscribedFrame
	require.NoError(t, ws.ReadJSON(&sub))

	require.NoError(t, ws.WriteJSON(protocol.PingFrame{Type: protocol.TypePing}))
	var pong protocol.PongFrame
	require.NoError(t, ws.ReadJSON(&pong))
	require.Equal(t, protocol.TypePong, pong.Type)
}

func TestPromptFrameDispatchedAfterSubscribe(t *testing.T) {
	ts, _, disp, st := newTestServer(t)
	ctx := context.Background()

	token := "client-token-3"
	require.NoError(t, st.UpsertParticipant(ctx, &domain.Participant{
		ID: "p3", UserID: "u3", Role: domain.ParticipantRoleOwner,
		WSAuthTokenHash: cryptoutil.HashWSToken(token), JoinedAt: 1,
	}))

	ws := dialClient(t, ts)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(protocol.SubscribeFrame{Type: protocol.TypeSubscribe, Token: token}))
	var sub protocol.SubscribedFrame
	require.NoError(t, ws.ReadJSON(&sub))

	require.NoError(t, ws.WriteJSON(protocol.PromptFrame{Type: protocol.TypePrompt, Content: "hello"}))
	require.Eventually(t, func() bool {
		return len(disp.prompts) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "p3:hello", disp.prompts[0])
}

func TestPromptBeforeSubscribeIsRejected(t *testing.T) {
	ts, _, disp, _ := newTestServer(t)

	ws := dialClient(t, ts)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(protocol.PromptFrame{Type: protocol.TypePrompt, Content: "too early"}))

	var errFrame protocol.ErrorFrame
	require.NoError(t, ws.ReadJSON(&errFrame))
	require.Equal(t, protocol.ErrorCodeUnauthorized, errFrame.Code)
	require.Empty(t, disp.prompts)
}

func TestSandboxSocketRequiresMatchingToken(t *testing.T) {
	ts, _, _, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.PutSandbox(ctx, &domain.Sandbox{
		ID: "sb1", ObjectID: "obj1", Status: domain.SandboxStatusConnecting,
		AuthToken: "correct-token", CreatedAt: 1,
	}))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sandbox", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-token")
	req.Header.Set("X-Sandbox-ID", "obj1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSandboxSocketRefusedWhenStale(t *testing.T) {
	ts, _, _, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.PutSandbox(ctx, &domain.Sandbox{
		ID: "sb1", ObjectID: "obj1", Status: domain.SandboxStatusStale,
		AuthToken: "tok", CreatedAt: 1,
	}))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sandbox", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("X-Sandbox-ID", "obj1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestSandboxConnectionSupersedesPrevious(t *testing.T) {
	ts, h, _, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.PutSandbox(ctx, &domain.Sandbox{
		ID: "sb1", ObjectID: "obj1", Status: domain.SandboxStatusConnecting,
		AuthToken: "tok", CreatedAt: 1,
	}))

	url := strings.Replace(ts.URL, "http", "ws", 1) + "/sandbox"
	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	header.Set("X-Sandbox-ID", "obj1")

	first, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return h.HasSandbox() }, time.Second, 10*time.Millisecond)

	second, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer second.Close()

	_, _, err = first.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}
