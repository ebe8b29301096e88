package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
	"github.com/sessioncoordinator/coordinator/internal/store"
)

// Config bundles the WebSocket tunables read from internal/config.
type Config struct {
	AuthTimeout    time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// Server upgrades HTTP connections to client and sandbox sockets and
// dispatches parsed frames into the hub and the coordinator's Dispatcher.
type Server struct {
	hub        *Hub
	store      store.Store
	dispatcher Dispatcher
	cfg        Config
	upgrader   websocket.Upgrader
}

// NewServer builds a Server around an existing Hub.
func NewServer(h *Hub, st store.Store, d Dispatcher, cfg Config) *Server {
	return &Server{
		hub:        h,
		store:      st,
		dispatcher: d,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleClientSocket upgrades a client connection and starts its read/write
// pumps. The socket is tagged with a fresh ws_id and given AuthTimeout to
// send a valid subscribe frame before it is closed with code 4008.
func (s *Server) HandleClientSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("client websocket upgrade failed: %v", err)
		return err
	}

	wsID := uuid.New().String()
	conn := newClientConn(wsID, ws)
	s.hub.RegisterClient(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	authTimer := time.AfterFunc(s.cfg.AuthTimeout, func() {
		if !conn.isAuthenticated() {
			s.closeClient(conn, protocol.CloseAuthTimeout, "authentication timeout")
		}
	})

	go s.clientWritePump(conn)
	go s.clientReadPump(conn, authTimer)
	return nil
}

// HandleSandboxSocket upgrades the session's single sandbox connection. A
// new connection supersedes any existing one.
func (s *Server) HandleSandboxSocket(c echo.Context) error {
	ctx := c.Request().Context()
	token, err := cryptoutil.ParseBearer(c.Request().Header.Get("Authorization"))
	if err != nil {
		return c.String(http.StatusUnauthorized, "missing or malformed bearer token")
	}
	objectID := c.Request().Header.Get("X-Sandbox-ID")

	sb, err := s.store.GetSandbox(ctx)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to load sandbox")
	}
	if sb == nil || sb.AuthToken == "" || sb.AuthToken != token || sb.ObjectID != objectID {
		return c.String(http.StatusUnauthorized, "invalid sandbox credentials")
	}
	if sb.Status == domain.SandboxStatusStopped || sb.Status == domain.SandboxStatusStale {
		return c.String(http.StatusGone, "sandbox is no longer accepting connections")
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("sandbox websocket upgrade failed: %v", err)
		return err
	}

	conn := newSandboxConn(objectID, ws)
	if prev := s.hub.SetSandbox(conn); prev != nil {
		s.closeSandbox(prev, websocket.CloseNormalClosure, "superseded by a new sandbox connection")
	}

	go s.sandboxWritePump(conn)
	go s.sandboxReadPump(conn)

	if err := s.dispatcher.HandleSandboxConnected(ctx); err != nil {
		log.Printf("WARN: sandbox connected hook failed: %v", err)
	}
	return nil
}

func (s *Server) clientReadPump(conn *ClientConn, authTimer *time.Timer) {
	defer func() {
		authTimer.Stop()
		s.hub.UnregisterClient(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("client %s websocket error: %v", conn.WSID, err)
			}
			return
		}
		s.handleClientFrame(conn, authTimer, data)
	}
}

func (s *Server) clientWritePump(conn *ClientConn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("client %s write failed: %v", conn.WSID, err)
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) sandboxReadPump(conn *SandboxConn) {
	defer func() {
		s.hub.ClearSandbox(conn)
		conn.Conn.Close()
	}()

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("sandbox websocket error: %v", err)
			}
			return
		}
		s.handleSandboxFrame(data)
	}
}

func (s *Server) sandboxWritePump(conn *SandboxConn) {
	for data := range conn.Send {
		if err := conn.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("sandbox write failed: %v", err)
			return
		}
	}
}

func (s *Server) handleClientFrame(conn *ClientConn, authTimer *time.Timer, data []byte) {
	ctx := context.Background()
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON frame")
		return
	}

	switch env.Type {
	case protocol.TypePing:
		s.send(conn, protocol.PongFrame{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})
		return
	case protocol.TypeSubscribe:
		s.handleSubscribe(ctx, conn, authTimer, data)
		return
	}

	if !conn.isAuthenticated() {
		s.sendError(conn, protocol.ErrorCodeUnauthorized, "subscribe before sending other frames")
		return
	}

	switch env.Type {
	case protocol.TypePrompt:
		var f protocol.PromptFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid prompt frame")
			return
		}
		if err := s.dispatcher.HandlePrompt(ctx, conn.ParticipantID, f); err != nil {
			s.sendError(conn, protocol.ErrorCodeInternal, err.Error())
		}
	case protocol.TypeStop:
		if err := s.dispatcher.HandleStop(ctx, conn.ParticipantID); err != nil {
			s.sendError(conn, protocol.ErrorCodeInternal, err.Error())
		}
	case protocol.TypeTyping:
		// Presence-only; no persistence, fan out is handled by the
		// coordinator via HandlePresence for the richer presence frame.
	case protocol.TypePresence:
		var f protocol.PresenceFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid presence frame")
			return
		}
		s.dispatcher.HandlePresence(ctx, conn.ParticipantID, f)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown frame type: "+env.Type)
	}
}

// handleSubscribe authenticates the socket by hashing the supplied token
// and matching it against a participant's ws_auth_token_hash. This is a
// hub-level concern: no coordinator involvement is needed to validate a
// token the hub can hash and compare itself.
func (s *Server) handleSubscribe(ctx context.Context, conn *ClientConn, authTimer *time.Timer, data []byte) {
	var f protocol.SubscribeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid subscribe frame")
		return
	}
	if f.Token == "" {
		s.closeClient(conn, protocol.CloseInvalidAuth, "missing token")
		return
	}

	hash := cryptoutil.HashWSToken(f.Token)
	participant, err := s.store.GetParticipantByWSTokenHash(ctx, hash)
	if err != nil {
		s.sendError(conn, protocol.ErrorCodeInternal, "failed to validate token")
		return
	}
	if participant == nil {
		s.closeClient(conn, protocol.CloseInvalidAuth, "invalid token")
		return
	}

	authTimer.Stop()
	conn.markAuthenticated(participant.ID, f.ClientID)

	mapping := &domain.WSClientMapping{
		WSID:          conn.WSID,
		ParticipantID: participant.ID,
		ClientID:      f.ClientID,
		CreatedAt:     time.Now().UnixMilli(),
	}
	if err := s.store.PutWSClientMapping(ctx, mapping); err != nil {
		log.Printf("WARN: failed to persist ws client mapping: %v", err)
	}

	snapshot, err := s.dispatcher.SessionSnapshot(ctx, participant.ID)
	if err != nil {
		s.sendError(conn, protocol.ErrorCodeInternal, "failed to build session snapshot")
		return
	}
	snapshot.Type = protocol.TypeSubscribed
	snapshot.ParticipantID = participant.ID
	snapshot.Participant = &protocol.ParticipantView{
		ID:          participant.ID,
		UserID:      participant.UserID,
		GitHubLogin: participant.GitHubLogin,
		Role:        string(participant.Role),
	}
	s.send(conn, snapshot)
}

func (s *Server) handleSandboxFrame(data []byte) {
	ctx := context.Background()
	var outer struct {
		Type  string          `json:"type"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		log.Printf("WARN: invalid sandbox frame: %v", err)
		return
	}
	if outer.Type != protocol.TypeSandboxEvent {
		log.Printf("WARN: unexpected sandbox frame type: %s", outer.Type)
		return
	}
	var inner struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(outer.Event, &inner); err != nil {
		log.Printf("WARN: invalid sandbox event payload: %v", err)
		return
	}
	if err := s.dispatcher.HandleSandboxEvent(ctx, inner.Type, outer.Event); err != nil {
		log.Printf("WARN: sandbox event %s handling failed: %v", inner.Type, err)
	}
}

func (s *Server) send(conn *ClientConn, frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("WARN: failed to marshal client frame: %v", err)
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Printf("client %s send buffer full, closing", conn.WSID)
		go s.hub.UnregisterClient(conn)
	}
}

func (s *Server) sendError(conn *ClientConn, code, message string) {
	s.send(conn, protocol.ErrorFrame{Type: protocol.TypeError, Code: code, Message: message})
}

func (s *Server) closeClient(conn *ClientConn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	conn.Conn.Close()
}

func (s *Server) closeSandbox(conn *SandboxConn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	conn.Conn.Close()
}
