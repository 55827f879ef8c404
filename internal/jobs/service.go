package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/events/bus"
	"github.com/arborhq/arbor/internal/platform"
)

// Service is the enqueue-side API: it creates the durable job record,
// announces it on the bus, and hands the task to the broker.
type Service struct {
	queue  Queue
	store  *Store
	bus    bus.Bus
	logger *logger.Logger
}

// NewService creates the job service.
func NewService(queue Queue, store *Store, eventBus bus.Bus, log *logger.Logger) *Service {
	return &Service{
		queue:  queue,
		store:  store,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "job_service")),
	}
}

// Enqueue creates a job for the task and submits it. The task's JobID is
// assigned here.
func (s *Service) Enqueue(ctx context.Context, task *Task) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		AgentSlug: task.AgentSlug,
		UserID:    task.UserID,
		SessionID: task.SessionID,
		Streaming: task.Streaming,
		Status:    platform.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	task.JobID = job.ID

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	publishJobEvent(ctx, s.bus, s.logger, platform.JobEvent{
		JobID:     job.ID,
		Status:    platform.JobQueued,
		Timestamp: time.Now().UTC(),
	})

	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Get returns the job record for id.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Cancel requests cooperative cancellation of a running job.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.queue.Cancel(ctx, id)
}

// publishJobEvent sends a job:{id} envelope. Publish failures are logged;
// the bus is best-effort.
func publishJobEvent(ctx context.Context, b bus.Bus, log *logger.Logger, event platform.JobEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error("Marshal job event failed", zap.Error(err))
		return
	}
	if err := b.Publish(ctx, "job:"+event.JobID, payload); err != nil {
		log.Warn("Publish job event failed",
			zap.String("job_id", event.JobID), zap.Error(err))
	}
}

// publishStreamEvent sends a stream:{id} envelope.
func publishStreamEvent(ctx context.Context, b bus.Bus, log *logger.Logger, event platform.StreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error("Marshal stream event failed", zap.Error(err))
		return
	}
	if err := b.Publish(ctx, "stream:"+event.JobID, payload); err != nil {
		log.Warn("Publish stream event failed",
			zap.String("job_id", event.JobID), zap.Error(err))
	}
}
