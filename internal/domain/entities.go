package domain

import "encoding/json"

// Session is the singleton per-coordinator entity.
type Session struct {
	ID                string        `json:"id"`
	SessionName        string        `json:"session_name"`
	Title             string        `json:"title,omitempty"`
	RepoOwner         string        `json:"repo_owner,omitempty"`
	RepoName          string        `json:"repo_name,omitempty"`
	RepoDefaultBranch string        `json:"repo_default_branch,omitempty"`
	BranchName        string        `json:"branch_name,omitempty"`
	BaseSHA           string        `json:"base_sha,omitempty"`
	CurrentSHA        string        `json:"current_sha,omitempty"`
	AgentSessionID    string        `json:"agent_session_id,omitempty"`
	Model             string        `json:"model,omitempty"`
	Status            SessionStatus `json:"status"`
	CreatedAt         int64         `json:"created_at"`
	UpdatedAt         int64         `json:"updated_at"`
}

// Participant is a human or service identity with access to the session.
type Participant struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	GitHubUserID     string          `json:"github_user_id,omitempty"`
	GitHubLogin      string          `json:"github_login,omitempty"`
	GitHubName       string          `json:"github_name,omitempty"`
	GitHubEmail      string          `json:"github_email,omitempty"`
	Role             ParticipantRole `json:"role"`
	EncryptedToken   []byte          `json:"-"`
	TokenExpiresAt   int64           `json:"token_expires_at,omitempty"`
	WSAuthTokenHash  string          `json:"-"`
	WSTokenCreatedAt int64           `json:"ws_token_created_at,omitempty"`
	JoinedAt         int64           `json:"joined_at"`
}

// Message is a prompt in the FIFO queue.
type Message struct {
	ID              string          `json:"id"`
	AuthorID        string          `json:"author_id"`
	Content         string          `json:"content"`
	Source          MessageSource   `json:"source"`
	Model           string          `json:"model,omitempty"`
	Attachments     json.RawMessage `json:"attachments,omitempty"`
	CallbackContext json.RawMessage `json:"callback_context,omitempty"`
	Status          MessageStatus   `json:"status"`
	CreatedAt       int64           `json:"created_at"`
	StartedAt       int64           `json:"started_at,omitempty"`
	CompletedAt     int64           `json:"completed_at,omitempty"`
}

// Event is an append-only observation from the sandbox or the coordinator.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Sandbox is the single sandbox instance bound to the session.
type Sandbox struct {
	ID                   string        `json:"id"`
	ObjectID             string        `json:"object_id,omitempty"`
	Status               SandboxStatus `json:"status"`
	GitSyncStatus        GitSyncStatus `json:"git_sync_status"`
	AuthToken            string        `json:"-"`
	LastHeartbeat        int64         `json:"last_heartbeat,omitempty"`
	LastActivity         int64         `json:"last_activity,omitempty"`
	SnapshotImageID      string        `json:"snapshot_image_id,omitempty"`
	CircuitBreakerFailures  int        `json:"circuit_breaker_failures"`
	CircuitBreakerOpenedAt  int64      `json:"circuit_breaker_opened_at,omitempty"`
	CreatedAt            int64         `json:"created_at"`
}

// Artifact is an externally visible product of a session.
type Artifact struct {
	ID        string          `json:"id"`
	Type      ArtifactType    `json:"type"`
	URL       string          `json:"url"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// WSClientMapping records the participant bound to a websocket tag, used only
// for hibernation recovery.
type WSClientMapping struct {
	WSID          string `json:"ws_id"`
	ParticipantID string `json:"participant_id"`
	ClientID      string `json:"client_id"`
	CreatedAt     int64  `json:"created_at"`
}
