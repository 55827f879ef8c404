package governance

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WindowQuota is the local quota service: a sliding-window cap on turns per
// (user, agent) pair. Zero or negative limit disables the cap.
type WindowQuota struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	turns  map[string][]time.Time
	now    func() time.Time
}

var _ QuotaService = (*WindowQuota)(nil)

// NewWindowQuota creates a quota allowing limit turns per window per
// (user, agent) pair.
func NewWindowQuota(limit int, window time.Duration) *WindowQuota {
	return &WindowQuota{
		limit:  limit,
		window: window,
		turns:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Check records the turn and decides whether it is within the window cap.
func (q *WindowQuota) Check(_ context.Context, userID, agentSlug string) (QuotaDecision, error) {
	if q.limit <= 0 {
		return QuotaDecision{Allowed: true}, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := userID + "/" + agentSlug
	cutoff := q.now().Add(-q.window)

	kept := q.turns[key][:0]
	for _, ts := range q.turns[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= q.limit {
		q.turns[key] = kept
		return QuotaDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("limit of %d turns per %s reached", q.limit, q.window),
		}, nil
	}

	q.turns[key] = append(kept, q.now())
	return QuotaDecision{Allowed: true}, nil
}
