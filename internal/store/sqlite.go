package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// SQLiteStore implements Store using an embedded SQLite database — one file
// per session, so that eviction/resume is a process restart, not a
// consistency problem.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the session's database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A per-session :memory: or mode=memory DSN must stay on a single
	// connection or each goroutine sees an empty database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			session_name TEXT NOT NULL UNIQUE,
			title TEXT,
			repo_owner TEXT,
			repo_name TEXT,
			repo_default_branch TEXT,
			branch_name TEXT,
			base_sha TEXT,
			current_sha TEXT,
			agent_session_id TEXT,
			model TEXT,
			status TEXT NOT NULL DEFAULT 'created',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			github_user_id TEXT,
			github_login TEXT,
			github_name TEXT,
			github_email TEXT,
			role TEXT NOT NULL DEFAULT 'member',
			encrypted_access_token BLOB,
			token_expires_at INTEGER,
			ws_auth_token_hash TEXT,
			ws_token_created_at INTEGER,
			joined_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_ws_hash ON participants(ws_auth_token_hash)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			model TEXT,
			attachments TEXT,
			callback_context TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_status_created ON messages(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			payload TEXT,
			message_id TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_message ON events(message_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS sandboxes (
			id TEXT PRIMARY KEY,
			object_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			git_sync_status TEXT NOT NULL DEFAULT 'pending',
			auth_token TEXT,
			last_heartbeat INTEGER,
			last_activity INTEGER,
			snapshot_image_id TEXT,
			circuit_breaker_failures INTEGER NOT NULL DEFAULT 0,
			circuit_breaker_opened_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			url TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at)`,
		`CREATE TABLE IF NOT EXISTS ws_client_mappings (
			ws_id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Session ---------------------------------------------------------------

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, session_name, title, repo_owner, repo_name, repo_default_branch,
			branch_name, base_sha, current_sha, agent_session_id, model, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SessionName, sess.Title, sess.RepoOwner, sess.RepoName, sess.RepoDefaultBranch,
		sess.BranchName, sess.BaseSHA, sess.CurrentSHA, sess.AgentSessionID, sess.Model, sess.Status,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	var title, repoOwner, repoName, repoDefaultBranch, branchName, baseSHA, currentSHA, agentSessionID, model sql.NullString
	err := row.Scan(&sess.ID, &sess.SessionName, &title, &repoOwner, &repoName, &repoDefaultBranch,
		&branchName, &baseSHA, &currentSHA, &agentSessionID, &model, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Title = title.String
	sess.RepoOwner = repoOwner.String
	sess.RepoName = repoName.String
	sess.RepoDefaultBranch = repoDefaultBranch.String
	sess.BranchName = branchName.String
	sess.BaseSHA = baseSHA.String
	sess.CurrentSHA = currentSHA.String
	sess.AgentSessionID = agentSessionID.String
	sess.Model = model.String
	return &sess, nil
}

const sessionColumns = `id, session_name, title, repo_owner, repo_name, repo_default_branch,
	branch_name, base_sha, current_sha, agent_session_id, model, status, created_at, updated_at`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSessionByName(ctx context.Context, sessionName string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_name = ?`, sessionName)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by name: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, repo_owner = ?, repo_name = ?, repo_default_branch = ?,
			branch_name = ?, base_sha = ?, current_sha = ?, agent_session_id = ?, model = ?,
			status = ?, updated_at = ?
		WHERE id = ?`,
		sess.Title, sess.RepoOwner, sess.RepoName, sess.RepoDefaultBranch, sess.BranchName,
		sess.BaseSHA, sess.CurrentSHA, sess.AgentSessionID, sess.Model, sess.Status, sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, cursor string, limit int) ([]domain.Session, string, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at ASC LIMIT ?`, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE created_at > ? ORDER BY created_at ASC LIMIT ?`, cursor, limit+1)
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, "", false, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *sess)
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	next := ""
	if len(out) > 0 {
		next = fmt.Sprintf("%d", out[len(out)-1].CreatedAt)
	}
	return out, next, hasMore, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// --- Participant -------------------------------------------------------------

func (s *SQLiteStore) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, user_id, github_user_id, github_login, github_name, github_email,
			role, encrypted_access_token, token_expires_at, ws_auth_token_hash, ws_token_created_at, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			github_user_id = excluded.github_user_id,
			github_login = excluded.github_login,
			github_name = excluded.github_name,
			github_email = excluded.github_email,
			role = excluded.role,
			encrypted_access_token = excluded.encrypted_access_token,
			token_expires_at = excluded.token_expires_at`,
		p.ID, p.UserID, p.GitHubUserID, p.GitHubLogin, p.GitHubName, p.GitHubEmail,
		p.Role, p.EncryptedToken, p.TokenExpiresAt, p.WSAuthTokenHash, p.WSTokenCreatedAt, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

const participantColumns = `id, user_id, github_user_id, github_login, github_name, github_email,
	role, encrypted_access_token, token_expires_at, ws_auth_token_hash, ws_token_created_at, joined_at`

func (s *SQLiteStore) scanParticipant(row scanner) (*domain.Participant, error) {
	var p domain.Participant
	var githubUserID, githubLogin, githubName, githubEmail, wsHash sql.NullString
	var tokenExpiresAt, wsTokenCreatedAt sql.NullInt64
	err := row.Scan(&p.ID, &p.UserID, &githubUserID, &githubLogin, &githubName, &githubEmail,
		&p.Role, &p.EncryptedToken, &tokenExpiresAt, &wsHash, &wsTokenCreatedAt, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	p.GitHubUserID = githubUserID.String
	p.GitHubLogin = githubLogin.String
	p.GitHubName = githubName.String
	p.GitHubEmail = githubEmail.String
	p.WSAuthTokenHash = wsHash.String
	p.TokenExpiresAt = tokenExpiresAt.Int64
	p.WSTokenCreatedAt = wsTokenCreatedAt.Int64
	return &p, nil
}

func (s *SQLiteStore) GetParticipant(ctx context.Context, id string) (*domain.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	p, err := s.scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetParticipantByUserID(ctx context.Context, userID string) (*domain.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE user_id = ?`, userID)
	p, err := s.scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant by user id: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetParticipantByWSTokenHash(ctx context.Context, hash string) (*domain.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE ws_auth_token_hash = ?`, hash)
	p, err := s.scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant by ws token hash: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY joined_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := s.scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *SQLiteStore) SetParticipantWSToken(ctx context.Context, id, hash string, createdAt int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE participants SET ws_auth_token_hash = ?, ws_token_created_at = ? WHERE id = ?`,
		hash, createdAt, id)
	if err != nil {
		return fmt.Errorf("failed to set participant ws token: %w", err)
	}
	return nil
}

// scanner abstracts over *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

// --- Message -----------------------------------------------------------------

const messageColumns = `id, author_id, content, source, model, attachments, callback_context,
	status, created_at, started_at, completed_at`

func (s *SQLiteStore) scanMessage(row scanner) (*domain.Message, error) {
	var m domain.Message
	var model, attachments, callbackContext sql.NullString
	var startedAt, completedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.AuthorID, &m.Content, &m.Source, &model, &attachments, &callbackContext,
		&m.Status, &m.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	m.Model = model.String
	if attachments.Valid {
		m.Attachments = json.RawMessage(attachments.String)
	}
	if callbackContext.Valid {
		m.CallbackContext = json.RawMessage(callbackContext.String)
	}
	m.StartedAt = startedAt.Int64
	m.CompletedAt = completedAt.Int64
	return &m, nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, author_id, content, source, model, attachments, callback_context,
			status, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AuthorID, m.Content, m.Source, m.Model, m.Attachments, m.CallbackContext,
		m.Status, m.CreatedAt, nullIfZero(m.StartedAt), nullIfZero(m.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) FindMessageByCallback(ctx context.Context, source domain.MessageSource, callbackContext string) (*domain.Message, error) {
	if callbackContext == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE source = ? AND callback_context = ?`,
		source, callbackContext)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by callback: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, cursor string, limit int, status domain.MessageStatus) ([]domain.Message, string, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	switch {
	case cursor != "" && status != "":
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE created_at > ? AND status = ? ORDER BY created_at ASC LIMIT ?`, cursor, status, limit+1)
	case cursor != "":
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE created_at > ? ORDER BY created_at ASC LIMIT ?`, cursor, limit+1)
	case status != "":
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE status = ? ORDER BY created_at ASC LIMIT ?`, status, limit+1)
	default:
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY created_at ASC LIMIT ?`, limit+1)
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, "", false, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, *m)
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	next := ""
	if len(out) > 0 {
		next = fmt.Sprintf("%d", out[len(out)-1].CreatedAt)
	}
	return out, next, hasMore, nil
}

func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, startedAt, completedAt int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET status = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		status, nullIfZero(startedAt), nullIfZero(completedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// GetProcessingMessage returns the single message currently in "processing"
// status, or nil if none — callers rely on this to enforce the at-most-one
// invariant.
func (s *SQLiteStore) GetProcessingMessage(ctx context.Context) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE status = ? LIMIT 1`, domain.MessageStatusProcessing)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processing message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) GetOldestPendingMessage(ctx context.Context) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE status = ? ORDER BY created_at ASC LIMIT 1`, domain.MessageStatusPending)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest pending message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) PendingOrProcessingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE status IN (?, ?)`,
		domain.MessageStatusPending, domain.MessageStatusProcessing).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending/processing messages: %w", err)
	}
	return count, nil
}

// --- Event -------------------------------------------------------------------

func (s *SQLiteStore) CreateEvent(ctx context.Context, e *domain.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, payload, message_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Payload, nullIfEmpty(e.MessageID), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, cursor int64, limit int, eventType string, messageID string) ([]domain.Event, int64, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, type, payload, message_id, created_at FROM events WHERE created_at > ?`
	args := []interface{}{cursor}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	if messageID != "" {
		query += ` AND message_id = ?`
		args = append(args, messageID)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var messageID sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &messageID, &e.CreatedAt); err != nil {
			return nil, 0, false, fmt.Errorf("failed to scan event: %w", err)
		}
		e.MessageID = messageID.String
		out = append(out, e)
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	next := cursor
	if len(out) > 0 {
		next = out[len(out)-1].CreatedAt
	}
	return out, next, hasMore, nil
}

// --- Sandbox -------------------------------------------------------------------

const sandboxColumns = `id, object_id, status, git_sync_status, auth_token, last_heartbeat,
	last_activity, snapshot_image_id, circuit_breaker_failures, circuit_breaker_opened_at, created_at`

func (s *SQLiteStore) scanSandbox(row scanner) (*domain.Sandbox, error) {
	var sb domain.Sandbox
	var objectID, authToken, snapshotImageID sql.NullString
	var lastHeartbeat, lastActivity, circuitBreakerOpenedAt sql.NullInt64
	err := row.Scan(&sb.ID, &objectID, &sb.Status, &sb.GitSyncStatus, &authToken, &lastHeartbeat,
		&lastActivity, &snapshotImageID, &sb.CircuitBreakerFailures, &circuitBreakerOpenedAt, &sb.CreatedAt)
	if err != nil {
		return nil, err
	}
	sb.ObjectID = objectID.String
	sb.AuthToken = authToken.String
	sb.SnapshotImageID = snapshotImageID.String
	sb.LastHeartbeat = lastHeartbeat.Int64
	sb.LastActivity = lastActivity.Int64
	sb.CircuitBreakerOpenedAt = circuitBreakerOpenedAt.Int64
	return &sb, nil
}

// GetSandbox returns the session's sandbox row. A session has at most one
//, so no id parameter is needed.
func (s *SQLiteStore) GetSandbox(ctx context.Context) (*domain.Sandbox, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sandboxColumns+` FROM sandboxes ORDER BY created_at DESC LIMIT 1`)
	sb, err := s.scanSandbox(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sandbox: %w", err)
	}
	return sb, nil
}

func (s *SQLiteStore) PutSandbox(ctx context.Context, sb *domain.Sandbox) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandboxes (id, object_id, status, git_sync_status, auth_token, last_heartbeat,
			last_activity, snapshot_image_id, circuit_breaker_failures, circuit_breaker_opened_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			object_id = excluded.object_id,
			status = excluded.status,
			git_sync_status = excluded.git_sync_status,
			auth_token = excluded.auth_token,
			last_heartbeat = excluded.last_heartbeat,
			last_activity = excluded.last_activity,
			snapshot_image_id = excluded.snapshot_image_id,
			circuit_breaker_failures = excluded.circuit_breaker_failures,
			circuit_breaker_opened_at = excluded.circuit_breaker_opened_at`,
		sb.ID, nullIfEmpty(sb.ObjectID), sb.Status, sb.GitSyncStatus, nullIfEmpty(sb.AuthToken),
		nullIfZero(sb.LastHeartbeat), nullIfZero(sb.LastActivity), nullIfEmpty(sb.SnapshotImageID),
		sb.CircuitBreakerFailures, nullIfZero(sb.CircuitBreakerOpenedAt), sb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put sandbox: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSandboxStatus(ctx context.Context, id string, status domain.SandboxStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sandboxes SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update sandbox status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSandboxHeartbeat(ctx context.Context, id string, at int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sandboxes SET last_heartbeat = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update sandbox heartbeat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSandboxActivity(ctx context.Context, id string, at int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sandboxes SET last_activity = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update sandbox activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSandboxGitSync(ctx context.Context, id string, status domain.GitSyncStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sandboxes SET git_sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update sandbox git sync status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSandboxSnapshot(ctx context.Context, id string, snapshotImageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sandboxes SET snapshot_image_id = ? WHERE id = ?`, snapshotImageID, id)
	if err != nil {
		return fmt.Errorf("failed to update sandbox snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSandboxCircuitBreaker(ctx context.Context, id string, failures int, openedAt int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sandboxes SET circuit_breaker_failures = ?, circuit_breaker_opened_at = ? WHERE id = ?`,
		failures, nullIfZero(openedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update sandbox circuit breaker: %w", err)
	}
	return nil
}

// --- Artifact ------------------------------------------------------------------

func (s *SQLiteStore) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, type, url, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.URL, a.Metadata, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, url, metadata, created_at FROM artifacts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var metadata sql.NullString
		if err := rows.Scan(&a.ID, &a.Type, &a.URL, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Metadata = json.RawMessage(metadata.String)
		out = append(out, a)
	}
	return out, nil
}

// --- WSClientMapping -------------------------------------------------------------

func (s *SQLiteStore) PutWSClientMapping(ctx context.Context, m *domain.WSClientMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ws_client_mappings (ws_id, participant_id, client_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ws_id) DO UPDATE SET participant_id = excluded.participant_id, client_id = excluded.client_id`,
		m.WSID, m.ParticipantID, m.ClientID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put ws client mapping: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWSClientMapping(ctx context.Context, wsID string) (*domain.WSClientMapping, error) {
	var m domain.WSClientMapping
	err := s.db.QueryRowContext(ctx, `SELECT ws_id, participant_id, client_id, created_at FROM ws_client_mappings WHERE ws_id = ?`, wsID).
		Scan(&m.WSID, &m.ParticipantID, &m.ClientID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ws client mapping: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) DeleteWSClientMapping(ctx context.Context, wsID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ws_client_mappings WHERE ws_id = ?`, wsID)
	if err != nil {
		return fmt.Errorf("failed to delete ws client mapping: %w", err)
	}
	return nil
}

func nullIfZero(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
