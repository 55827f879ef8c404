package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/internal/agents"
	"github.com/arborhq/arbor/internal/common/config"
	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/events/bus"
	"github.com/arborhq/arbor/internal/gateway"
	"github.com/arborhq/arbor/internal/governance"
	"github.com/arborhq/arbor/internal/jobs"
	"github.com/arborhq/arbor/internal/llm"
	"github.com/arborhq/arbor/internal/packaging"
	"github.com/arborhq/arbor/internal/pipeline"
	"github.com/arborhq/arbor/internal/secrets"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/tools"
	"github.com/arborhq/arbor/pkg/ws"
)

// defaultQuotaPerHour caps turns per user per agent when no external quota
// adapter is plugged in.
const defaultQuotaPerHour = 120

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
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

	log.Info("Starting Arbor platform...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open database
	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	// 5. Event bus and session cache (Redis when configured, in-process otherwise)
	var eventBus bus.Bus
	var sessionCache session.Cache
	if cfg.Redis.URL != "" {
		redisBus, err := bus.NewRedisBus(cfg.Redis.URL, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		eventBus = redisBus

		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		sessionCache = session.NewRedisCache(redis.NewClient(opts), log)
		log.Info("Connected to Redis", zap.String("url", cfg.Redis.URL))
	} else {
		eventBus = bus.NewMemoryBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 6. Secret store
	crypto, err := secrets.NewMasterKeyProvider(cfg.Secrets.Dir)
	if err != nil {
		log.Fatal("Failed to initialize master key", zap.Error(err))
	}
	secretStore, err := secrets.Provide(pool, crypto)
	if err != nil {
		log.Fatal("Failed to initialize secret store", zap.Error(err))
	}

	// 7. Object store (S3-compatible when configured)
	var objects storage.ObjectStore
	if cfg.ObjectStore.Endpoint != "" {
		objects, err = storage.NewS3Store(ctx, cfg.ObjectStore)
		if err != nil {
			log.Fatal("Failed to initialize object store", zap.Error(err))
		}
		log.Info("Connected to object store", zap.String("endpoint", cfg.ObjectStore.Endpoint))
	} else {
		objects = storage.NewMemoryStore()
		log.Info("Using in-memory object store")
	}

	// 8. Tool and connector registries
	toolReg := tools.NewRegistry(log)
	tools.RegisterBuiltins(toolReg)
	connReg := connectors.NewRegistry(log)
	connectors.RegisterBuiltins(connReg, log)
	log.Info("Registries ready",
		zap.Int("tools", len(toolReg.List())),
		zap.Int("connectors", len(connReg.List())))

	// 9. Session store
	repo, err := session.NewRepository(pool)
	if err != nil {
		log.Fatal("Failed to initialize session repository", zap.Error(err))
	}
	sessions := session.NewStore(repo, sessionCache)

	// 10. LLM catalog and gateway
	catalog, err := llm.NewCatalog(pool)
	if err != nil {
		log.Fatal("Failed to initialize LLM catalog", zap.Error(err))
	}
	llmGateway := llm.NewGateway(catalog, secretStore, cfg.LLM.DefaultMaxTokens, log)

	// 11. Governance collaborators (local defaults; adapters replace these in
	// larger deployments)
	moderation := governance.NewWordlistModeration()
	quota := governance.NewWindowQuota(defaultQuotaPerHour, time.Hour)
	consumption, err := governance.ProvideConsumption(pool)
	if err != nil {
		log.Fatal("Failed to initialize consumption recorder", zap.Error(err))
	}

	// 12. Pipeline and agent engine
	pipe := pipeline.New(moderation, quota, consumption, log)

	agentCatalog, err := agents.NewCatalog(pool)
	if err != nil {
		log.Fatal("Failed to initialize agent catalog", zap.Error(err))
	}
	registry := agents.NewRegistry(toolReg, connReg, agentCatalog, log)
	agents.RegisterBuiltins(ctx, registry)
	log.Info("Agents registered", zap.Int("agents", len(registry.List())))

	engine := agents.NewEngine(registry, pipe, sessions, llmGateway,
		toolReg, connReg, objects, cfg.ObjectStore.StorageBucket, log)

	// 13. Job store, queue, service, and worker
	jobStore, err := jobs.NewStore(pool)
	if err != nil {
		log.Fatal("Failed to initialize job store", zap.Error(err))
	}
	var queue jobs.Queue
	if cfg.NATS.URL != "" {
		queue, err = jobs.NewNATSQueue(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		log.Info("Connected to NATS broker", zap.String("url", cfg.NATS.URL))
	} else {
		queue = jobs.NewMemoryQueue(log)
		log.Info("Using in-process job queue")
	}
	defer queue.Close()

	jobService := jobs.NewService(queue, jobStore, eventBus, log)
	worker := jobs.NewWorker(queue, jobStore, eventBus, engine, cfg.Worker, log)

	// 14. Packaging (validator, exporter, importer)
	validator := packaging.NewValidator(toolReg, connReg, log)
	exporter := packaging.NewExporter(validator, objects, cfg.ObjectStore.AgentsBucket, log)
	importer := packaging.NewImporter(validator, cfg.Packages.AgentsDir, log)

	// 15. Realtime gateway
	dispatcher := ws.NewDispatcher()
	gateway.RegisterHealthHandler(dispatcher)
	hub := gateway.NewHub(dispatcher, log)
	relay := gateway.NewRelay(eventBus, hub, log)

	server := gateway.NewServer(cfg.Server, engine, jobService, registry,
		toolReg, connReg, sessions, governance.AllowAll{}, hub, log)
	server.EnablePackaging(exporter, importer, cfg.Packages.AgentsDir)

	// 16. Run everything
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(server.Start)

	// 17. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("Shutting down Arbor platform...")
	case <-gctx.Done():
		log.Error("Component failed, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
	log.Info("Arbor platform stopped")
}
