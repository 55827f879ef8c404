// arbor-worker runs the job worker without the HTTP/WebSocket surface. It is
// deployed alongside the main binary when job throughput needs to scale
// independently; it requires the shared broker and bus to be configured.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/agents"
	"github.com/arborhq/arbor/internal/common/config"
	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/events/bus"
	"github.com/arborhq/arbor/internal/governance"
	"github.com/arborhq/arbor/internal/jobs"
	"github.com/arborhq/arbor/internal/llm"
	"github.com/arborhq/arbor/internal/pipeline"
	"github.com/arborhq/arbor/internal/secrets"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/tools"
)

const defaultQuotaPerHour = 120

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.NATS.URL == "" {
		fmt.Fprintln(os.Stderr, "arbor-worker requires nats.url; the in-process queue cannot span processes")
		os.Exit(1)
	}
	if cfg.Redis.URL == "" {
		fmt.Fprintln(os.Stderr, "arbor-worker requires redis.url; events must reach the API process")
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Arbor worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Open database
	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	// 4. Shared event bus
	eventBus, err := bus.NewRedisBus(cfg.Redis.URL, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer eventBus.Close()

	// 5. Secret store
	crypto, err := secrets.NewMasterKeyProvider(cfg.Secrets.Dir)
	if err != nil {
		log.Fatal("Failed to initialize master key", zap.Error(err))
	}
	secretStore, err := secrets.Provide(pool, crypto)
	if err != nil {
		log.Fatal("Failed to initialize secret store", zap.Error(err))
	}

	// 6. Object store
	var objects storage.ObjectStore
	if cfg.ObjectStore.Endpoint != "" {
		objects, err = storage.NewS3Store(ctx, cfg.ObjectStore)
		if err != nil {
			log.Fatal("Failed to initialize object store", zap.Error(err))
		}
	} else {
		objects = storage.NewMemoryStore()
		log.Warn("Using in-memory object store; agent storage will not be shared")
	}

	// 7. Registries, sessions, LLM, governance, pipeline, engine — the same
	// stack the API process builds for synchronous turns
	toolReg := tools.NewRegistry(log)
	tools.RegisterBuiltins(toolReg)
	connReg := connectors.NewRegistry(log)
	connectors.RegisterBuiltins(connReg, log)

	repo, err := session.NewRepository(pool)
	if err != nil {
		log.Fatal("Failed to initialize session repository", zap.Error(err))
	}
	sessions := session.NewStore(repo, nil)

	catalog, err := llm.NewCatalog(pool)
	if err != nil {
		log.Fatal("Failed to initialize LLM catalog", zap.Error(err))
	}
	llmGateway := llm.NewGateway(catalog, secretStore, cfg.LLM.DefaultMaxTokens, log)

	consumption, err := governance.ProvideConsumption(pool)
	if err != nil {
		log.Fatal("Failed to initialize consumption recorder", zap.Error(err))
	}
	pipe := pipeline.New(governance.NewWordlistModeration(),
		governance.NewWindowQuota(defaultQuotaPerHour, time.Hour), consumption, log)

	agentCatalog, err := agents.NewCatalog(pool)
	if err != nil {
		log.Fatal("Failed to initialize agent catalog", zap.Error(err))
	}
	registry := agents.NewRegistry(toolReg, connReg, agentCatalog, log)
	agents.RegisterBuiltins(ctx, registry)

	engine := agents.NewEngine(registry, pipe, sessions, llmGateway,
		toolReg, connReg, objects, cfg.ObjectStore.StorageBucket, log)

	// 8. Broker queue and worker
	queue, err := jobs.NewNATSQueue(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer queue.Close()

	jobStore, err := jobs.NewStore(pool)
	if err != nil {
		log.Fatal("Failed to initialize job store", zap.Error(err))
	}
	worker := jobs.NewWorker(queue, jobStore, eventBus, engine, cfg.Worker, log)

	// 9. Run until signaled
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("Shutting down Arbor worker...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Error("Worker stopped with error", zap.Error(err))
		}
	}
	log.Info("Arbor worker stopped")
}
