// Package protocol defines the WebSocket frame protocol between clients,
// the coordinator, and the sandbox. Every frame is a JSON object with a
// "type" discriminant; frames are parsed into sealed per-variant structs at
// the boundary and never propagated inward as unparsed maps.
package protocol

import "encoding/json"

// Client -> server frame types.
const (
	TypePing      = "ping"
	TypeSubscribe = "subscribe"
	TypePrompt    = "prompt"
	TypeStop      = "stop"
	TypeTyping    = "typing"
	TypePresence  = "presence"
)

// Server -> client frame types.
const (
	TypePong             = "pong"
	TypeSubscribed       = "subscribed"
	TypePromptQueued     = "prompt_queued"
	TypeSandboxEvent     = "sandbox_event"
	TypePresenceSync     = "presence_sync"
	TypePresenceUpdate   = "presence_update"
	TypePresenceLeave    = "presence_leave"
	TypeSandboxWarming   = "sandbox_warming"
	TypeSandboxSpawning  = "sandbox_spawning"
	TypeSandboxStatus    = "sandbox_status"
	TypeSandboxReady     = "sandbox_ready"
	TypeSandboxError     = "sandbox_error"
	TypeSandboxWarning   = "sandbox_warning"
	TypeSandboxRestored  = "sandbox_restored"
	TypeSnapshotSaved    = "snapshot_saved"
	TypeArtifactCreated  = "artifact_created"
	TypeSessionStatus    = "session_status"
	TypeProcessingStatus = "processing_status"
	TypeError            = "error"
)

// Server -> sandbox frame types.
const (
	TypeSandboxPrompt = "prompt"
	TypeSandboxPush   = "push"
	TypeSandboxStop   = "stop"
)

// Sandbox -> server event types (carried inside a sandbox_event frame).
const (
	EventHeartbeat         = "heartbeat"
	EventToken             = "token"
	EventToolCall          = "tool_call"
	EventToolResult        = "tool_result"
	EventGitSync           = "git_sync"
	EventExecutionComplete = "execution_complete"
	EventArtifact          = "artifact"
	EventPushComplete      = "push_complete"
	EventPushError         = "push_error"
)

// WebSocket close codes the coordinator uses when refusing or dropping a
// socket.
const (
	CloseInvalidAuth     = 4001
	CloseStateLost       = 4002
	CloseAuthTimeout     = 4008
	CloseSandboxSuperseded = 1000
)

// Error codes carried in a server->client error frame.
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeInternal       = "internal_error"
)

// Envelope is the minimal shape every inbound frame must satisfy, used to
// read the discriminant before dispatching to a concrete variant.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ---- Client -> server --------------------------------------------------

type PingFrame struct {
	Type string `json:"type"`
}

type SubscribeFrame struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
}

type PromptFrame struct {
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Model       string          `json:"model,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

type StopFrame struct {
	Type string `json:"type"`
}

type TypingFrame struct {
	Type string `json:"type"`
}

type PresenceFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Cursor string `json:"cursor,omitempty"`
}

// ---- Server -> client ---------------------------------------------------

type PongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ParticipantView struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	GitHubLogin string `json:"githubLogin,omitempty"`
	Role        string `json:"role"`
}

type SubscribedFrame struct {
	Type          string           `json:"type"`
	SessionID     string           `json:"sessionId"`
	State         string           `json:"state"`
	ParticipantID string           `json:"participantId"`
	Participant   *ParticipantView `json:"participant,omitempty"`
}

type PromptQueuedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Position  int    `json:"position"`
}

type SandboxEventFrame struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

type PresenceSyncFrame struct {
	Type     string   `json:"type"`
	Presence []string `json:"presence"`
}

type PresenceUpdateFrame struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participantId"`
	Status        string `json:"status"`
}

type PresenceLeaveFrame struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participantId"`
}

type SandboxStatusFrame struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}

type SandboxErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type SnapshotSavedFrame struct {
	Type    string `json:"type"`
	ImageID string `json:"imageId"`
	Reason  string `json:"reason"`
}

type ArtifactCreatedFrame struct {
	Type     string          `json:"type"`
	Artifact json.RawMessage `json:"artifact"`
}

type SessionStatusFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type ProcessingStatusFrame struct {
	Type         string `json:"type"`
	IsProcessing bool   `json:"isProcessing"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---- Sandbox -> server (event payloads carried inside SandboxEventFrame) --

type HeartbeatEvent struct {
	Type string `json:"type"`
}

type TokenEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
}

type ToolCallEvent struct {
	Type      string          `json:"type"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args"`
	CallID    string          `json:"callId"`
	MessageID string          `json:"messageId"`
}

type ToolResultEvent struct {
	Type      string          `json:"type"`
	CallID    string          `json:"callId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	MessageID string          `json:"messageId"`
}

type GitSyncEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	SHA    string `json:"sha,omitempty"`
}

type ExecutionCompleteEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
}

type ArtifactEvent struct {
	Type         string          `json:"type"`
	ArtifactType string          `json:"artifactType"`
	URL          string          `json:"url"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

type PushCompleteEvent struct {
	Type       string `json:"type"`
	BranchName string `json:"branchName"`
}

type PushErrorEvent struct {
	Type       string `json:"type"`
	BranchName string `json:"branchName"`
	Error      string `json:"error"`
}

// ---- Server -> sandbox ----------------------------------------------------

type SandboxPromptCommand struct {
	Type        string          `json:"type"`
	MessageID   string          `json:"messageId"`
	Content     string          `json:"content"`
	Model       string          `json:"model,omitempty"`
	Author      string          `json:"author"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

type SandboxPushCommand struct {
	Type       string `json:"type"`
	BranchName string `json:"branchName"`
	RepoOwner  string `json:"repoOwner"`
	RepoName   string `json:"repoName"`
	GitHubToken string `json:"githubToken,omitempty"`
}

type SandboxStopCommand struct {
	Type string `json:"type"`
}
