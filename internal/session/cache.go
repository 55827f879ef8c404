package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
)

const cacheTTL = 30 * time.Minute

// Cache is the hot-session cache in front of the repository. Stale reads are
// acceptable: the database is authoritative and writes go through.
type Cache interface {
	GetSession(ctx context.Context, id string) (*Session, bool)
	PutSession(ctx context.Context, s *Session)
	Invalidate(ctx context.Context, id string)
}

// RedisCache implements Cache on the shared Redis instance.
type RedisCache struct {
	client *redis.Client
	logger *logger.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache on the given client.
func NewRedisCache(client *redis.Client, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		logger: log.WithFields(zap.String("component", "session_cache")),
	}
}

func cacheKey(id string) string { return "session:" + id }

// GetSession returns the cached session, if present. Cache errors degrade to
// a miss.
func (c *RedisCache) GetSession(ctx context.Context, id string) (*Session, bool) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Session cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn("Dropping undecodable cached session", zap.String("session_id", id))
		c.Invalidate(ctx, id)
		return nil, false
	}
	return &s, true
}

// PutSession writes the session through to the cache.
func (c *RedisCache) PutSession(ctx context.Context, s *Session) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(s.ID), data, cacheTTL).Err(); err != nil {
		c.logger.Warn("Session cache write failed", zap.Error(err))
	}
}

// Invalidate removes the session from the cache.
func (c *RedisCache) Invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		c.logger.Warn("Session cache invalidation failed", zap.Error(err))
	}
}

// noopCache is used when no Redis instance is configured.
type noopCache struct{}

var _ Cache = noopCache{}

func (noopCache) GetSession(context.Context, string) (*Session, bool) { return nil, false }
func (noopCache) PutSession(context.Context, *Session)                {}
func (noopCache) Invalidate(context.Context, string)                  {}
