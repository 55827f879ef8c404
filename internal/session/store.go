package session

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/arborhq/arbor/internal/platform"
)

// lockShards stripes per-session mutexes; 64 shards keep contention low
// without a mutex per live session.
const lockShards = 64

// Store is the session service: durable repository plus write-through cache,
// with per-session append serialization.
type Store struct {
	repo  *Repository
	cache Cache
	locks [lockShards]sync.Mutex
}

// NewStore creates the session store. A nil cache disables caching.
func NewStore(repo *Repository, cache Cache) *Store {
	if cache == nil {
		cache = noopCache{}
	}
	return &Store{repo: repo, cache: cache}
}

func (s *Store) lock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%lockShards]
}

// CreateSession creates a session with a generated id.
func (s *Store) CreateSession(ctx context.Context, agentSlug, userID, title string) (*Session, error) {
	sess, err := s.repo.CreateSession(ctx, agentSlug, userID, title)
	if err != nil {
		return nil, err
	}
	s.cache.PutSession(ctx, sess)
	return sess, nil
}

// CreateSessionWithID creates a session under a caller-supplied id,
// idempotently.
func (s *Store) CreateSessionWithID(ctx context.Context, id, agentSlug, userID, title string) (*Session, error) {
	sess, err := s.repo.CreateSessionWithID(ctx, id, agentSlug, userID, title)
	if err != nil {
		return nil, err
	}
	s.cache.PutSession(ctx, sess)
	return sess, nil
}

// GetSession returns the session for id: cache first, then the database.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if sess, ok := s.cache.GetSession(ctx, id); ok {
		return sess, nil
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.PutSession(ctx, sess)
	return sess, nil
}

// ListSessions returns the (agent, user) sessions by recency.
func (s *Store) ListSessions(ctx context.Context, agentSlug, userID string, limit, offset int) ([]*Session, error) {
	return s.repo.ListSessions(ctx, agentSlug, userID, limit, offset)
}

// AppendMessage appends one message to the session.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role platform.Role, content string, attachments []platform.Attachment, metadata map[string]any) (*Message, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := s.repo.AppendMessage(ctx, sessionID, role, content, attachments, metadata)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, sessionID)
	return msg, nil
}

// AppendTurn appends a user/assistant message pair atomically. A nil
// assistant appends only the user message (used when a turn fails after the
// pre-filters or its output is blocked).
func (s *Store) AppendTurn(ctx context.Context, sessionID string, user, assistant *Message) error {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.repo.AppendTurn(ctx, sessionID, user, assistant); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, sessionID)
	return nil
}

// GetMessages returns the session's messages chronologically.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	return s.repo.GetMessages(ctx, sessionID, limit)
}

// ClearMessages deletes every message in the session.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.repo.ClearMessages(ctx, sessionID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, sessionID)
	return nil
}

// SetTitle updates the session title.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	if err := s.repo.SetTitle(ctx, id, title); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	return nil
}

// CloseSession marks the session inactive; history is retained.
func (s *Store) CloseSession(ctx context.Context, id string) error {
	if err := s.repo.CloseSession(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	return nil
}
