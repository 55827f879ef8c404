package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
)

// RedisBus implements Bus on Redis pub/sub. Channel patterns map directly to
// PSUBSCRIBE globs.
type RedisBus struct {
	client *redis.Client
	logger *logger.Logger
}

// NewRedisBus creates a bus backed by the shared Redis instance.
func NewRedisBus(url string, log *logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Connected to Redis bus", zap.String("addr", opts.Addr))
	return &RedisBus{client: client, logger: log}, nil
}

// Client returns the underlying redis client for shared use (session cache).
func (b *RedisBus) Client() *redis.Client { return b.client }

// Publish sends a payload to a channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// PSubscribe creates a pattern subscription.
func (b *RedisBus) PSubscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	pubsub := b.client.PSubscribe(ctx, patterns...)

	// Force the subscription onto the wire before returning so callers can
	// rely on receiving messages published after PSubscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to psubscribe: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan Message, subscriberBuffer),
	}
	go sub.pump(pubsub.Channel())
	return sub, nil
}

// Close closes the underlying client.
func (b *RedisBus) Close() {
	if err := b.client.Close(); err != nil {
		b.logger.Warn("Error closing redis client", zap.Error(err))
	}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Message
}

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.ch)
	for msg := range in {
		s.ch <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.ch }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }
