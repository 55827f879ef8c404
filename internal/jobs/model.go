// Package jobs implements the asynchronous turn path: a durable job record,
// a broker queue delivering tasks to workers, and the worker that drives
// turns through the engine while publishing progress and stream events.
package jobs

import (
	"time"

	"github.com/arborhq/arbor/internal/platform"
)

// Job is one asynchronous turn, referenced by UUID. The terminal record is
// the only durable cross-component handoff.
type Job struct {
	ID         string             `db:"id" json:"id"`
	AgentSlug  string             `db:"agent_slug" json:"agent_slug"`
	UserID     string             `db:"user_id" json:"user_id"`
	SessionID  string             `db:"session_id" json:"session_id"`
	Streaming  bool               `db:"streaming" json:"streaming"`
	Status     platform.JobStatus `db:"status" json:"status"`
	Result     string             `db:"result" json:"result,omitempty"`
	ErrorCode  string             `db:"error_code" json:"error_code,omitempty"`
	ErrorMsg   string             `db:"error_message" json:"error_message,omitempty"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
	StartedAt  *time.Time         `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time         `db:"finished_at" json:"finished_at,omitempty"`
}

// Task is the broker payload for one job. It carries everything a worker
// needs to rebuild the engine request.
type Task struct {
	JobID       string                `json:"job_id"`
	AgentSlug   string                `json:"agent_slug"`
	UserID      string                `json:"user_id"`
	SessionID   string                `json:"session_id,omitempty"`
	WorkspaceID string                `json:"workspace_id,omitempty"`
	Lang        string                `json:"lang,omitempty"`
	Streaming   bool                  `json:"streaming"`
	Message     *platform.UserMessage `json:"message"`

	// TimeoutSeconds caps the turn's duration; 0 uses the worker default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}
