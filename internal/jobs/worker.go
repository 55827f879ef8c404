package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/internal/agents"
	"github.com/arborhq/arbor/internal/common/config"
	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/events/bus"
	"github.com/arborhq/arbor/internal/platform"
)

// Worker consumes tasks from the broker and drives them through the engine.
// Delivery is at least once: the persisted terminal record is rechecked
// before executing, so duplicate deliveries of a finished job are no-ops.
type Worker struct {
	queue          Queue
	store          *Store
	bus            bus.Bus
	engine         *agents.Engine
	concurrency    int
	defaultTimeout time.Duration
	logger         *logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewWorker creates a worker pool over the queue.
func NewWorker(queue Queue, store *Store, eventBus bus.Bus, engine *agents.Engine, cfg config.WorkerConfig, log *logger.Logger) *Worker {
	return &Worker{
		queue:          queue,
		store:          store,
		bus:            eventBus,
		engine:         engine,
		concurrency:    cfg.Concurrency,
		defaultTimeout: cfg.JobTimeoutDuration(),
		logger:         log.WithFields(zap.String("component", "job_worker")),
		running:        make(map[string]context.CancelFunc),
	}
}

// Run consumes tasks until ctx ends. Each concurrency slot runs its own
// consume loop so the broker balances tasks across slots and processes.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.OnCancel(ctx, w.cancelJob); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.queue.Consume(ctx, w.handle)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// cancelJob cancels the in-flight execution of a job on this worker.
func (w *Worker) cancelJob(jobID string) {
	w.mu.Lock()
	cancel, ok := w.running[jobID]
	w.mu.Unlock()
	if ok {
		w.logger.Info("Canceling job", zap.String("job_id", jobID))
		cancel()
	}
}

func (w *Worker) handle(ctx context.Context, task *Task) {
	log := w.logger.WithJobID(task.JobID)

	// Idempotent redelivery: a terminal record means the job already ran.
	if job, err := w.store.Get(ctx, task.JobID); err != nil {
		log.Warn("Job record lookup failed, skipping delivery", zap.Error(err))
		return
	} else if job.Status.Terminal() {
		log.Info("Skipping duplicate delivery of finished job",
			zap.String("status", string(job.Status)))
		return
	}

	started, err := w.store.MarkRunning(ctx, task.JobID)
	if err != nil {
		log.Error("Mark running failed", zap.Error(err))
		return
	}
	if !started {
		// Lost the race against another delivery.
		return
	}
	w.publishStatus(ctx, task.JobID, platform.JobRunning, nil, "")

	jobCtx, cancel := context.WithCancel(ctx)
	if timeout := w.timeoutFor(task); timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	w.mu.Lock()
	w.running[task.JobID] = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.running, task.JobID)
		w.mu.Unlock()
	}()

	progressStatus := platform.JobRunning
	if task.Streaming {
		progressStatus = platform.JobStreaming
	}
	req := &agents.Request{
		AgentSlug:   task.AgentSlug,
		UserID:      task.UserID,
		SessionID:   task.SessionID,
		WorkspaceID: task.WorkspaceID,
		Lang:        task.Lang,
		Message:     task.Message,
		Progress: func(percent int, message string) {
			w.publishStatus(ctx, task.JobID, progressStatus, &percent, message)
		},
	}

	var result *platform.Result
	if task.Streaming {
		if err := w.store.SetStatus(ctx, task.JobID, platform.JobStreaming); err != nil {
			log.Warn("Set streaming status failed", zap.Error(err))
		}
		w.publishStatus(ctx, task.JobID, platform.JobStreaming, nil, "")
		result = w.engine.ExecuteStream(jobCtx, req, func(chunk platform.ResponseChunk) {
			publishStreamEvent(ctx, w.bus, w.logger, platform.StreamEvent{
				JobID:     task.JobID,
				Content:   chunk.Content,
				IsFinal:   chunk.IsFinal,
				Timestamp: time.Now().UTC(),
			})
		})
	} else {
		result = w.engine.Execute(jobCtx, req)
	}

	status := terminalStatus(result)

	// The terminal record must land even when the job context is gone.
	finished, err := w.store.Finish(context.WithoutCancel(ctx), task.JobID, status, result)
	if err != nil {
		log.Error("Persist terminal record failed", zap.Error(err))
		return
	}
	if !finished {
		// Another delivery finished first; it also published the terminal
		// event.
		return
	}
	w.publishStatus(context.WithoutCancel(ctx), task.JobID, status, nil, result.Error)
	log.Info("Job finished",
		zap.String("status", string(status)),
		zap.Int64("duration_ms", result.DurationMS))
}

func (w *Worker) timeoutFor(task *Task) time.Duration {
	if task.TimeoutSeconds > 0 {
		return time.Duration(task.TimeoutSeconds) * time.Second
	}
	return w.defaultTimeout
}

func (w *Worker) publishStatus(ctx context.Context, jobID string, status platform.JobStatus, progress *int, message string) {
	publishJobEvent(ctx, w.bus, w.logger, platform.JobEvent{
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func terminalStatus(result *platform.Result) platform.JobStatus {
	switch {
	case result.Success:
		return platform.JobCompleted
	case result.ErrorCode == platform.ErrCanceled:
		return platform.JobCanceled
	default:
		return platform.JobFailed
	}
}
