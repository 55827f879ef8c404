package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/platform"
)

// ErrJobNotFound is returned when no job exists for an id.
var ErrJobNotFound = errors.New("job not found")

// Store persists job records. Only the terminal state must survive; interim
// status updates exist for observability.
type Store struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewStore creates the job store and initializes its schema.
func NewStore(pool *db.Pool) (*Store, error) {
	s := &Store{writer: pool.Writer(), reader: pool.Reader()}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("jobs schema init: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_jobs (
		id            TEXT PRIMARY KEY,
		agent_slug    TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		session_id    TEXT NOT NULL DEFAULT '',
		streaming     BOOLEAN NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		result        TEXT NOT NULL DEFAULT '',
		error_code    TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL,
		started_at    TIMESTAMP,
		finished_at   TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_agent_jobs_user ON agent_jobs(user_id, created_at);
	`
	_, err := s.writer.Exec(schema)
	return err
}

// Create persists a new queued job.
func (s *Store) Create(ctx context.Context, job *Job) error {
	query := s.writer.Rebind(`
		INSERT INTO agent_jobs (id, agent_slug, user_id, session_id, streaming, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.writer.ExecContext(ctx, query, job.ID, job.AgentSlug, job.UserID,
		job.SessionID, job.Streaming, job.Status, job.CreatedAt); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get returns the job for id, or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	query := s.reader.Rebind(`SELECT * FROM agent_jobs WHERE id = ?`)
	if err := s.reader.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// MarkRunning transitions a non-terminal job to running and stamps its start
// time. Returns false when the job is already terminal (duplicate delivery).
func (s *Store) MarkRunning(ctx context.Context, id string) (bool, error) {
	query := s.writer.Rebind(`
		UPDATE agent_jobs SET status = ?, started_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`)
	res, err := s.writer.ExecContext(ctx, query, platform.JobRunning, time.Now().UTC(),
		id, platform.JobCompleted, platform.JobFailed, platform.JobCanceled)
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	return n > 0, nil
}

// SetStatus updates a non-terminal job's status.
func (s *Store) SetStatus(ctx context.Context, id string, status platform.JobStatus) error {
	query := s.writer.Rebind(`
		UPDATE agent_jobs SET status = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`)
	if _, err := s.writer.ExecContext(ctx, query, status,
		id, platform.JobCompleted, platform.JobFailed, platform.JobCanceled); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

// Finish persists the terminal record. The guard on non-terminal status makes
// the transition happen at most once; false means another delivery already
// finished the job.
func (s *Store) Finish(ctx context.Context, id string, status platform.JobStatus, result *platform.Result) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("finish job: %s is not terminal", status)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal job result: %w", err)
	}

	query := s.writer.Rebind(`
		UPDATE agent_jobs SET status = ?, result = ?, error_code = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`)
	res, err := s.writer.ExecContext(ctx, query, status, string(payload),
		string(result.ErrorCode), result.Error, time.Now().UTC(),
		id, platform.JobCompleted, platform.JobFailed, platform.JobCanceled)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return n > 0, nil
}
