// Package store defines the coordinator's persistent storage interface and
// its SQLite-backed implementation. The store is the only place
// session state survives coordinator eviction.
package store

import (
	"context"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// Store is the full persistence surface owned exclusively by the
// coordinator.
type Store interface {
	// Session
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetSessionByName(ctx context.Context, sessionName string) (*domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error
	ListSessions(ctx context.Context, cursor string, limit int) ([]domain.Session, string, bool, error)
	DeleteSession(ctx context.Context, id string) error

	// Participant
	UpsertParticipant(ctx context.Context, p *domain.Participant) error
	GetParticipant(ctx context.Context, id string) (*domain.Participant, error)
	GetParticipantByUserID(ctx context.Context, userID string) (*domain.Participant, error)
	GetParticipantByWSTokenHash(ctx context.Context, hash string) (*domain.Participant, error)
	ListParticipants(ctx context.Context) ([]domain.Participant, error)
	SetParticipantWSToken(ctx context.Context, id, hash string, createdAt int64) error

	// Message (FIFO queue persistence)
	CreateMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	FindMessageByCallback(ctx context.Context, source domain.MessageSource, callbackContext string) (*domain.Message, error)
	ListMessages(ctx context.Context, cursor string, limit int, status domain.MessageStatus) ([]domain.Message, string, bool, error)
	UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, startedAt, completedAt int64) error
	GetProcessingMessage(ctx context.Context) (*domain.Message, error)
	GetOldestPendingMessage(ctx context.Context) (*domain.Message, error)
	PendingOrProcessingCount(ctx context.Context) (int, error)

	// Event (append-only)
	CreateEvent(ctx context.Context, e *domain.Event) error
	ListEvents(ctx context.Context, cursor int64, limit int, eventType string, messageID string) ([]domain.Event, int64, bool, error)

	// Sandbox (1:1 with the session)
	GetSandbox(ctx context.Context) (*domain.Sandbox, error)
	PutSandbox(ctx context.Context, sb *domain.Sandbox) error
	UpdateSandboxStatus(ctx context.Context, id string, status domain.SandboxStatus) error
	UpdateSandboxHeartbeat(ctx context.Context, id string, at int64) error
	UpdateSandboxActivity(ctx context.Context, id string, at int64) error
	UpdateSandboxGitSync(ctx context.Context, id string, status domain.GitSyncStatus) error
	UpdateSandboxSnapshot(ctx context.Context, id string, snapshotImageID string) error
	UpdateSandboxCircuitBreaker(ctx context.Context, id string, failures int, openedAt int64) error

	// Artifact (append-only)
	CreateArtifact(ctx context.Context, a *domain.Artifact) error
	ListArtifacts(ctx context.Context) ([]domain.Artifact, error)

	// WSClientMapping (hibernation recovery)
	PutWSClientMapping(ctx context.Context, m *domain.WSClientMapping) error
	GetWSClientMapping(ctx context.Context, wsID string) (*domain.WSClientMapping, error)
	DeleteWSClientMapping(ctx context.Context, wsID string) error

	Close() error
}
