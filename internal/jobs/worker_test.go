package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/agents"
	"github.com/arborhq/arbor/internal/common/config"
	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/events/bus"
	"github.com/arborhq/arbor/internal/governance"
	"github.com/arborhq/arbor/internal/pipeline"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/tools"
)

// counterAgent streams "1", "2", "3" and an empty final chunk.
type counterAgent struct{}

func (counterAgent) Manifest() platform.AgentManifest {
	return platform.AgentManifest{
		Slug: "counter", Name: "Counter", Version: "1.0.0",
		Capabilities: []string{platform.CapabilityStreaming},
	}
}

func (counterAgent) HandleTurn(context.Context, *platform.UserMessage, *agents.Context) (*platform.AgentResponse, error) {
	return &platform.AgentResponse{Content: "123"}, nil
}

func (counterAgent) HandleTurnStream(_ context.Context, _ *platform.UserMessage, _ *agents.Context, emit func(platform.ResponseChunk)) error {
	emit(platform.ResponseChunk{Content: "1"})
	emit(platform.ResponseChunk{Content: "2"})
	emit(platform.ResponseChunk{Content: "3"})
	emit(platform.ResponseChunk{IsFinal: true})
	return nil
}

// slowAgent blocks until its context ends.
type slowAgent struct{}

func (slowAgent) Manifest() platform.AgentManifest {
	return platform.AgentManifest{Slug: "slow", Name: "Slow", Version: "1.0.0"}
}

func (slowAgent) HandleTurn(ctx context.Context, _ *platform.UserMessage, _ *agents.Context) (*platform.AgentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type allowQuota struct{}

func (allowQuota) Check(context.Context, string, string) (governance.QuotaDecision, error) {
	return governance.QuotaDecision{Allowed: true}, nil
}

type workerFixture struct {
	service *Service
	worker  *Worker
	store   *Store
	queue   *MemoryQueue
	bus     *bus.MemoryBus
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	log := logger.Default()
	pool := db.OpenSQLiteMemory(t)

	repo, err := session.NewRepository(pool)
	require.NoError(t, err)
	sessions := session.NewStore(repo, nil)

	consumption, err := governance.ProvideConsumption(pool)
	require.NoError(t, err)
	pipe := pipeline.New(governance.NoopModeration{}, allowQuota{}, consumption, log)

	toolReg := tools.NewRegistry(log)
	connReg := connectors.NewRegistry(log)
	registry := agents.NewRegistry(toolReg, connReg, nil, log)
	registry.Register(context.Background(), &agents.EchoAgent{})
	registry.Register(context.Background(), counterAgent{})
	registry.Register(context.Background(), slowAgent{})

	engine := agents.NewEngine(registry, pipe, sessions, nil, toolReg, connReg,
		storage.NewMemoryStore(), "storage", log)

	store, err := NewStore(pool)
	require.NoError(t, err)
	queue := NewMemoryQueue(log)
	eventBus := bus.NewMemoryBus(log)
	t.Cleanup(eventBus.Close)

	return &workerFixture{
		service: NewService(queue, store, eventBus, log),
		worker:  NewWorker(queue, store, eventBus, engine, config.WorkerConfig{Concurrency: 2}, log),
		store:   store,
		queue:   queue,
		bus:     eventBus,
	}
}

// collector drains a bus subscription into ordered per-family slices and
// signals when a terminal job event arrives.
type collector struct {
	mu       sync.Mutex
	job      []platform.JobEvent
	stream   []platform.StreamEvent
	terminal chan platform.JobStatus
}

func collect(t *testing.T, sub bus.Subscription) *collector {
	t.Helper()
	c := &collector{terminal: make(chan platform.JobStatus, 1)}
	go func() {
		for msg := range sub.Messages() {
			c.mu.Lock()
			switch {
			case strings.HasPrefix(msg.Channel, "job:"):
				var ev platform.JobEvent
				if err := json.Unmarshal(msg.Payload, &ev); err == nil {
					c.job = append(c.job, ev)
					if ev.Status.Terminal() {
						select {
						case c.terminal <- ev.Status:
						default:
						}
					}
				}
			case strings.HasPrefix(msg.Channel, "stream:"):
				var ev platform.StreamEvent
				if err := json.Unmarshal(msg.Payload, &ev); err == nil {
					c.stream = append(c.stream, ev)
				}
			}
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) waitTerminal(t *testing.T) platform.JobStatus {
	t.Helper()
	select {
	case status := <-c.terminal:
		return status
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal job event")
		return ""
	}
}

func (c *collector) snapshot() ([]platform.JobEvent, []platform.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job := make([]platform.JobEvent, len(c.job))
	copy(job, c.job)
	stream := make([]platform.StreamEvent, len(c.stream))
	copy(stream, c.stream)
	return job, stream
}

func startWorker(t *testing.T, f *workerFixture) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.worker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerStreamingJobOrder(t *testing.T) {
	f := newWorkerFixture(t)

	// Subscribe before anything is published.
	sub, err := f.bus.PSubscribe(context.Background(), "job:*", "stream:*")
	require.NoError(t, err)
	c := collect(t, sub)

	startWorker(t, f)

	job, err := f.service.Enqueue(context.Background(), &Task{
		AgentSlug: "counter",
		UserID:    "user-1",
		Streaming: true,
		Message:   &platform.UserMessage{Content: "count"},
	})
	require.NoError(t, err)

	status := c.waitTerminal(t)
	assert.Equal(t, platform.JobCompleted, status)

	jobEvents, streamEvents := c.snapshot()

	require.Len(t, streamEvents, 4)
	for i, want := range []string{"1", "2", "3", ""} {
		assert.Equal(t, job.ID, streamEvents[i].JobID)
		assert.Equal(t, want, streamEvents[i].Content)
		assert.Equal(t, i == 3, streamEvents[i].IsFinal)
	}

	// Status sequence is a prefix of queued → running → streaming* →
	// completed, with exactly one terminal event at the end.
	var statuses []platform.JobStatus
	for _, ev := range jobEvents {
		statuses = append(statuses, ev.Status)
	}
	require.NotEmpty(t, statuses)
	assert.Equal(t, platform.JobQueued, statuses[0])
	assert.Equal(t, platform.JobCompleted, statuses[len(statuses)-1])
	terminals := 0
	rank := map[platform.JobStatus]int{
		platform.JobQueued: 0, platform.JobRunning: 1,
		platform.JobStreaming: 2, platform.JobCompleted: 3,
	}
	for i, s := range statuses {
		if s.Terminal() {
			terminals++
		}
		if i > 0 {
			assert.GreaterOrEqual(t, rank[s], rank[statuses[i-1]])
		}
	}
	assert.Equal(t, 1, terminals)

	// Terminal record is durable.
	stored, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, platform.JobCompleted, stored.Status)
}

func TestWorkerSyncJobPersistsResult(t *testing.T) {
	f := newWorkerFixture(t)

	sub, err := f.bus.PSubscribe(context.Background(), "job:*")
	require.NoError(t, err)
	c := collect(t, sub)

	startWorker(t, f)

	job, err := f.service.Enqueue(context.Background(), &Task{
		AgentSlug: "echo",
		UserID:    "user-1",
		Message:   &platform.UserMessage{Content: "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, platform.JobCompleted, c.waitTerminal(t))

	stored, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, platform.JobCompleted, stored.Status)
	assert.Contains(t, stored.Result, "you said: hi")
	assert.NotNil(t, stored.FinishedAt)
}

func TestWorkerSkipsDuplicateDelivery(t *testing.T) {
	f := newWorkerFixture(t)

	// A terminal record already exists for this job id.
	job := &Job{
		ID: "job-dup", AgentSlug: "echo", UserID: "user-1",
		Status: platform.JobQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.Create(context.Background(), job))
	finished, err := f.store.Finish(context.Background(), job.ID, platform.JobCompleted,
		&platform.Result{Success: true})
	require.NoError(t, err)
	require.True(t, finished)

	sub, err := f.bus.PSubscribe(context.Background(), "job:*")
	require.NoError(t, err)
	c := collect(t, sub)

	startWorker(t, f)

	require.NoError(t, f.queue.Enqueue(context.Background(), &Task{
		JobID: job.ID, AgentSlug: "echo", UserID: "user-1",
		Message: &platform.UserMessage{Content: "hi"},
	}))

	// The redelivery must produce no events at all.
	time.Sleep(300 * time.Millisecond)
	jobEvents, _ := c.snapshot()
	assert.Empty(t, jobEvents)
}

func TestWorkerFinishIsExactlyOnce(t *testing.T) {
	f := newWorkerFixture(t)

	job := &Job{
		ID: "job-once", AgentSlug: "echo", UserID: "user-1",
		Status: platform.JobQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.Create(context.Background(), job))

	first, err := f.store.Finish(context.Background(), job.ID, platform.JobCompleted,
		&platform.Result{Success: true})
	require.NoError(t, err)
	assert.True(t, first)

	second, err := f.store.Finish(context.Background(), job.ID, platform.JobFailed,
		platform.Failure(platform.ErrExecution, "late"))
	require.NoError(t, err)
	assert.False(t, second, "a finished job must not transition again")

	stored, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, platform.JobCompleted, stored.Status)
}

func TestWorkerCancel(t *testing.T) {
	f := newWorkerFixture(t)

	sub, err := f.bus.PSubscribe(context.Background(), "job:*")
	require.NoError(t, err)
	c := collect(t, sub)

	startWorker(t, f)

	job, err := f.service.Enqueue(context.Background(), &Task{
		AgentSlug: "slow",
		UserID:    "user-1",
		Message:   &platform.UserMessage{Content: "wait"},
	})
	require.NoError(t, err)

	// Wait for the job to start, then cancel it.
	require.Eventually(t, func() bool {
		stored, err := f.store.Get(context.Background(), job.ID)
		return err == nil && stored.Status == platform.JobRunning
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, f.service.Cancel(context.Background(), job.ID))

	assert.Equal(t, platform.JobCanceled, c.waitTerminal(t))

	stored, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, platform.JobCanceled, stored.Status)
	assert.Equal(t, string(platform.ErrCanceled), stored.ErrorCode)
}

func TestWorkerTimeout(t *testing.T) {
	f := newWorkerFixture(t)

	sub, err := f.bus.PSubscribe(context.Background(), "job:*")
	require.NoError(t, err)
	c := collect(t, sub)

	startWorker(t, f)

	job, err := f.service.Enqueue(context.Background(), &Task{
		AgentSlug:      "slow",
		UserID:         "user-1",
		Message:        &platform.UserMessage{Content: "wait"},
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, platform.JobFailed, c.waitTerminal(t))

	stored, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(platform.ErrTimeout), stored.ErrorCode)
}
