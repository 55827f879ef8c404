// Package session persists conversation history with a write-through cache.
package session

import (
	"errors"
	"time"

	"github.com/arborhq/arbor/internal/platform"
)

// ErrSessionNotFound is returned when no session exists for an id.
var ErrSessionNotFound = errors.New("session not found")

// Session is the conversation envelope. A session belongs to exactly one
// (user, agent) pair for its lifetime.
type Session struct {
	ID        string    `json:"id" db:"session_id"`
	AgentSlug string    `json:"agent_slug" db:"agent_slug"`
	UserID    string    `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one durable session message. Messages are append-only;
// ClearMessages deletes all at once.
type Message struct {
	ID          string                `json:"id" db:"id"`
	SessionID   string                `json:"session_id" db:"session_id"`
	Role        platform.Role         `json:"role" db:"role"`
	Content     string                `json:"content" db:"content"`
	Attachments []platform.Attachment `json:"attachments,omitempty" db:"-"`
	Metadata    map[string]any        `json:"metadata,omitempty" db:"-"`
	Timestamp   time.Time             `json:"timestamp" db:"timestamp"`
}
