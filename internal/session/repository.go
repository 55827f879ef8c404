package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/platform"
)

// Repository is the relational persistence layer for sessions and messages.
// Attachments and metadata are stored as JSON columns.
type Repository struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewRepository creates the repository and initializes its schema.
func NewRepository(pool *db.Pool) (*Repository, error) {
	r := &Repository{writer: pool.Writer(), reader: pool.Reader()}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("session schema init: %w", err)
	}
	return r, nil
}

func (r *Repository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_sessions (
		session_id TEXT PRIMARY KEY,
		agent_slug TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		is_active  BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent_user
		ON agent_sessions(agent_slug, user_id, updated_at);

	CREATE TABLE IF NOT EXISTS agent_session_messages (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES agent_sessions(session_id) ON DELETE CASCADE,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		attachments TEXT NOT NULL DEFAULT '[]',
		metadata    TEXT NOT NULL DEFAULT '{}',
		seq         INTEGER NOT NULL,
		timestamp   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_messages_session
		ON agent_session_messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_session_messages_timestamp
		ON agent_session_messages(timestamp);
	`
	_, err := r.writer.Exec(schema)
	return err
}

// CreateSession inserts a new session with a generated id.
func (r *Repository) CreateSession(ctx context.Context, agentSlug, userID, title string) (*Session, error) {
	return r.insertSession(ctx, uuid.New().String(), agentSlug, userID, title)
}

// CreateSessionWithID inserts a session under a caller-supplied id. Idempotent:
// if the session already exists it is returned unchanged.
func (r *Repository) CreateSessionWithID(ctx context.Context, id, agentSlug, userID, title string) (*Session, error) {
	existing, err := r.GetSession(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	return r.insertSession(ctx, id, agentSlug, userID, title)
}

func (r *Repository) insertSession(ctx context.Context, id, agentSlug, userID, title string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        id,
		AgentSlug: agentSlug,
		UserID:    userID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query := r.writer.Rebind(`
		INSERT INTO agent_sessions (session_id, agent_slug, user_id, title, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.writer.ExecContext(ctx, query,
		s.ID, s.AgentSlug, s.UserID, s.Title, s.IsActive, s.CreatedAt, s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// GetSession returns the session for id, or ErrSessionNotFound.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	query := r.reader.Rebind(`
		SELECT session_id, agent_slug, user_id, title, is_active, created_at, updated_at
		FROM agent_sessions WHERE session_id = ?`)
	if err := r.reader.GetContext(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the sessions for an (agent, user) pair ordered by
// updated_at descending.
func (r *Repository) ListSessions(ctx context.Context, agentSlug, userID string, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []*Session
	query := r.reader.Rebind(`
		SELECT session_id, agent_slug, user_id, title, is_active, created_at, updated_at
		FROM agent_sessions
		WHERE agent_slug = ? AND user_id = ?
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`)
	if err := r.reader.SelectContext(ctx, &sessions, query, agentSlug, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SetTitle updates the session display title.
func (r *Repository) SetTitle(ctx context.Context, id, title string) error {
	query := r.writer.Rebind(`
		UPDATE agent_sessions SET title = ?, updated_at = ? WHERE session_id = ?`)
	result, err := r.writer.ExecContext(ctx, query, title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set session title: %w", err)
	}
	return checkFound(result)
}

// CloseSession marks the session inactive; history is retained.
func (r *Repository) CloseSession(ctx context.Context, id string) error {
	query := r.writer.Rebind(`
		UPDATE agent_sessions SET is_active = 0, updated_at = ? WHERE session_id = ?`)
	result, err := r.writer.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return checkFound(result)
}

// AppendMessage inserts one message and bumps the session's updated_at.
func (r *Repository) AppendMessage(ctx context.Context, sessionID string, role platform.Role, content string, attachments []platform.Attachment, metadata map[string]any) (*Message, error) {
	tx, err := r.writer.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	msg, err := r.appendInTx(ctx, tx, sessionID, role, content, attachments, metadata)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// AppendTurn inserts the user message and the assistant response as one
// transaction, so concurrent turns on the same session cannot interleave a
// pair.
func (r *Repository) AppendTurn(ctx context.Context, sessionID string, user, assistant *Message) error {
	tx, err := r.writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := r.appendInTx(ctx, tx, sessionID, user.Role, user.Content, user.Attachments, user.Metadata); err != nil {
		return err
	}
	if assistant != nil {
		if _, err := r.appendInTx(ctx, tx, sessionID, assistant.Role, assistant.Content, assistant.Attachments, assistant.Metadata); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn append: %w", err)
	}
	return nil
}

func (r *Repository) appendInTx(ctx context.Context, tx *sqlx.Tx, sessionID string, role platform.Role, content string, attachments []platform.Attachment, metadata map[string]any) (*Message, error) {
	// Verify the session exists inside the transaction.
	var exists int
	checkQuery := tx.Rebind(`SELECT COUNT(1) FROM agent_sessions WHERE session_id = ?`)
	if err := tx.GetContext(ctx, &exists, checkQuery, sessionID); err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	attJSON, err := json.Marshal(attachmentsOrEmpty(attachments))
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	metaJSON, err := json.Marshal(metadataOrEmpty(metadata))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	// seq gives a total order within the session even when wall clocks tie.
	var seq int64
	seqQuery := tx.Rebind(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM agent_session_messages WHERE session_id = ?`)
	if err := tx.GetContext(ctx, &seq, seqQuery, sessionID); err != nil {
		return nil, fmt.Errorf("next message seq: %w", err)
	}

	msg := &Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		Attachments: attachments,
		Metadata:    metadata,
		Timestamp:   time.Now().UTC(),
	}
	insertQuery := tx.Rebind(`
		INSERT INTO agent_session_messages (id, session_id, role, content, attachments, metadata, seq, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQuery,
		msg.ID, msg.SessionID, msg.Role, msg.Content, string(attJSON), string(metaJSON), seq, msg.Timestamp); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	bumpQuery := tx.Rebind(`UPDATE agent_sessions SET updated_at = ? WHERE session_id = ?`)
	if _, err := tx.ExecContext(ctx, bumpQuery, msg.Timestamp, sessionID); err != nil {
		return nil, fmt.Errorf("bump session updated_at: %w", err)
	}
	return msg, nil
}

// GetMessages returns the session's messages in append order. A positive
// limit returns only the most recent messages, still chronologically.
func (r *Repository) GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, session_id, role, content, attachments, metadata, timestamp
		FROM agent_session_messages
		WHERE session_id = ?
		ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		// Take the tail, then restore chronological order.
		query = `
			SELECT id, session_id, role, content, attachments, metadata, timestamp FROM (
				SELECT id, session_id, role, content, attachments, metadata, seq, timestamp
				FROM agent_session_messages
				WHERE session_id = ?
				ORDER BY seq DESC
				LIMIT ?
			) tail ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := r.reader.QueryContext(ctx, r.reader.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var attJSON, metaJSON string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&attJSON, &metaJSON, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(attJSON), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// ClearMessages deletes every message in the session.
func (r *Repository) ClearMessages(ctx context.Context, sessionID string) error {
	query := r.writer.Rebind(`DELETE FROM agent_session_messages WHERE session_id = ?`)
	if _, err := r.writer.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func checkFound(result sql.Result) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func attachmentsOrEmpty(a []platform.Attachment) []platform.Attachment {
	if a == nil {
		return []platform.Attachment{}
	}
	return a
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
