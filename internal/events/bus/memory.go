package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
)

const subscriberBuffer = 256

// MemoryBus implements Bus with in-process channels. Used in tests and in
// single-node deployments without Redis.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
	logger *logger.Logger
}

type memorySubscription struct {
	bus      *MemoryBus
	patterns []*regexp.Regexp
	ch       chan Message
	once     sync.Once
}

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{logger: log}
}

// Publish sends the payload to every subscription with a matching pattern.
// Per-channel ordering is preserved because delivery happens synchronously
// into each subscriber's buffered channel.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, sub := range b.subs {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- Message{Channel: channel, Payload: payload}:
		default:
			// Slow subscriber: drop rather than block the publisher.
			b.logger.Warn("Dropping bus message for slow subscriber",
				zap.String("channel", channel))
		}
	}
	return nil
}

// PSubscribe creates a subscription for the given glob patterns.
func (b *MemoryBus) PSubscribe(_ context.Context, patterns ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &memorySubscription{
		bus: b,
		ch:  make(chan Message, subscriberBuffer),
	}
	for _, p := range patterns {
		sub.patterns = append(sub.patterns, compileGlob(p))
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Close closes the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = nil
}

func (s *memorySubscription) Messages() <-chan Message { return s.ch }

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	s.once.Do(func() { close(s.ch) })
	return nil
}

func (s *memorySubscription) matches(channel string) bool {
	for _, re := range s.patterns {
		if re.MatchString(channel) {
			return true
		}
	}
	return false
}

// compileGlob converts a redis-style glob pattern to an anchored regexp.
// Only '*' is supported; it matches any run of characters.
func compileGlob(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		// QuoteMeta output is always compilable; fall back to exact match.
		return regexp.MustCompile("^" + regexp.QuoteMeta(pattern) + "$")
	}
	return re
}
