// Package hub manages the WebSocket sockets for one session: the fan-out
// set of authenticated client sockets and the single sandbox socket. A
// client's identity is held on its in-memory connection; the subscribe
// handshake also persists a ws_client_mapping row keyed by ws_id, but the
// hub never reads that row back, so identity is not recovered from the
// store.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// ClientConn is one authenticated (or authenticating) client socket.
type ClientConn struct {
	WSID          string
	ParticipantID string
	ClientID      string
	Conn          *websocket.Conn
	Send          chan []byte

	mu            sync.Mutex
	authenticated bool
}

func newClientConn(wsID string, ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		WSID: wsID,
		Conn: ws,
		Send: make(chan []byte, 64),
	}
}

func (c *ClientConn) markAuthenticated(participantID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.ParticipantID = participantID
	c.ClientID = clientID
}

func (c *ClientConn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SandboxConn is the single sandbox socket for the session.
type SandboxConn struct {
	ObjectID string
	Conn     *websocket.Conn
	Send     chan []byte
}

func newSandboxConn(objectID string, ws *websocket.Conn) *SandboxConn {
	return &SandboxConn{
		ObjectID: objectID,
		Conn:     ws,
		Send:     make(chan []byte, 64),
	}
}

// Hub holds the live sockets for one session. There is exactly one Hub per
// session actor.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*ClientConn
	sandbox *SandboxConn
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*ClientConn),
	}
}

// RegisterClient adds a client socket to the fan-out set.
func (h *Hub) RegisterClient(c *ClientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.WSID] = c
}

// UnregisterClient removes a client socket and closes its send channel.
func (h *Hub) UnregisterClient(c *ClientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.WSID]; ok {
		delete(h.clients, c.WSID)
		close(c.Send)
	}
}

// SetSandbox installs a new sandbox socket, returning the previous one (or
// nil) so the caller can close it with the supersession close code.
func (h *Hub) SetSandbox(c *SandboxConn) *SandboxConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.sandbox
	h.sandbox = c
	return prev
}

// ClearSandbox removes the sandbox socket if it is still the one identified
// by conn (a stale unregister from a superseded connection is a no-op).
func (h *Hub) ClearSandbox(c *SandboxConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sandbox == c {
		close(c.Send)
		h.sandbox = nil
	}
}

// Broadcast fans a frame out to every client socket. Marshal errors are
// returned; a client whose send buffer is full is unregistered (closing its
// send channel) and the frame is dropped for it. SendToSandbox, by
// contrast, drops the command without closing the sandbox socket.
func (h *Hub) Broadcast(frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.Send <- data:
		default:
			log.Printf("client %s send buffer full, closing", c.WSID)
			go h.UnregisterClient(c)
		}
	}
	return nil
}

// SendToSandbox writes a command to the sandbox socket. It returns false if
// no sandbox socket is currently available; the caller decides the policy
// (retry, queue, surface an error).
func (h *Hub) SendToSandbox(cmd interface{}) bool {
	data, err := json.Marshal(cmd)
	if err != nil {
		log.Printf("WARN: failed to marshal sandbox command: %v", err)
		return false
	}
	h.mu.RLock()
	sb := h.sandbox
	h.mu.RUnlock()
	if sb == nil {
		return false
	}
	select {
	case sb.Send <- data:
		return true
	default:
		log.Printf("sandbox send buffer full, dropping command")
		return false
	}
}

// HasActiveClients reports whether any client socket is currently
// registered (authenticated or not); used by the lifecycle manager's
// inactivity alarm to decide whether to stay warm.
func (h *Hub) HasActiveClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HasSandbox reports whether a sandbox socket is currently connected.
func (h *Hub) HasSandbox() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sandbox != nil
}

// ClientCount returns the number of registered client sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
