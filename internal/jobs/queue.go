package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
)

// ErrQueueClosed is returned when enqueueing on a closed queue.
var ErrQueueClosed = errors.New("queue closed")

// memoryQueueBuffer bounds the in-process backlog. The broker is the natural
// backpressure point: a full buffer blocks enqueuers rather than dropping.
const memoryQueueBuffer = 1024

// Queue delivers job tasks to workers, at least once. Consume blocks until
// the context ends; each worker goroutine runs its own Consume loop so the
// broker balances tasks across them.
type Queue interface {
	// Enqueue submits a task for execution.
	Enqueue(ctx context.Context, task *Task) error

	// Consume delivers tasks to handler sequentially until ctx ends.
	Consume(ctx context.Context, handler func(ctx context.Context, task *Task)) error

	// Cancel broadcasts a cancellation request for a job id.
	Cancel(ctx context.Context, jobID string) error

	// OnCancel registers a handler for cancellation requests. Handlers run
	// until ctx ends.
	OnCancel(ctx context.Context, handler func(jobID string)) error

	// Close releases broker resources.
	Close()
}

// MemoryQueue implements Queue in process. Used in tests and single-node
// deployments without a broker.
type MemoryQueue struct {
	tasks chan *Task

	mu             sync.RWMutex
	cancelHandlers []func(jobID string)
	closed         bool

	logger *logger.Logger
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		tasks:  make(chan *Task, memoryQueueBuffer),
		logger: log.WithFields(zap.String("component", "memory_queue")),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler func(ctx context.Context, task *Task)) error {
	for {
		select {
		case task, ok := <-q.tasks:
			if !ok {
				return nil
			}
			handler(ctx, task)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.RLock()
	handlers := make([]func(string), len(q.cancelHandlers))
	copy(handlers, q.cancelHandlers)
	q.mu.RUnlock()

	for _, handler := range handlers {
		handler(jobID)
	}
	return nil
}

func (q *MemoryQueue) OnCancel(_ context.Context, handler func(jobID string)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelHandlers = append(q.cancelHandlers, handler)
	return nil
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
