// Command syncworker is the C15 worker process shell: it polls a task
// queue, hands each task to the C14 orchestrator, and exposes the
// health/drain/metrics/status control surface, mirroring the teacher's
// cmd-per-binary layout (spec.md §4.15).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airweave.dev/syncengine/chunker"
	"airweave.dev/syncengine/config"
	"airweave.dev/syncengine/contentprocessor"
	"airweave.dev/syncengine/destination"
	"airweave.dev/syncengine/download"
	"airweave.dev/syncengine/embed"
	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/logging"
	"airweave.dev/syncengine/orchestrator"
	"airweave.dev/syncengine/pipeline"
	"airweave.dev/syncengine/ratelimit"
	"airweave.dev/syncengine/rawdata"
	"airweave.dev/syncengine/source"
	"airweave.dev/syncengine/source/gitea"
	"airweave.dev/syncengine/source/gitlab"
	"airweave.dev/syncengine/source/jira"
	"airweave.dev/syncengine/source/msgraph"
	"airweave.dev/syncengine/storage"
	"airweave.dev/syncengine/token"
	"airweave.dev/syncengine/workerruntime"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := logging.New("syncworker")

	configPath := os.Getenv("SYNCWORKER_CONFIG_FILE")
	cfg, err := config.LoadWorkerConfig(configPath)
	if err != nil {
		log.Fatalf("syncworker: load config: %v", err)
	}

	storageBackend, err := buildStorageBackend(cfg.Storage)
	if err != nil {
		log.Fatalf("syncworker: build storage backend: %v", err)
	}

	configStore, err := source.NewGormConfigStore(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("syncworker: connection config store: %v", err)
	}
	credentialStore, err := token.NewGormStore(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("syncworker: credential store: %v", err)
	}
	syncStore, err := orchestrator.NewGormSyncStore(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("syncworker: sync store: %v", err)
	}

	tokenManager := token.NewManager(credentialStore, map[string]token.Refresher{})

	registry := source.NewRegistry()
	registry.Register(gitea.New(tokenManager, configStore))
	registry.Register(gitlab.New(tokenManager, configStore))
	registry.Register(jira.New(tokenManager, configStore))
	registry.Register(msgraph.New(configStore))

	orgLimiter := buildRateLimiter(cfg.RateLimit, "org")

	dense, err := embed.NewDense(embed.DenseConfig{
		APIKey:     cfg.OpenAIAPIKey,
		VectorSize: 1536,
	})
	if err != nil {
		log.Fatalf("syncworker: build dense embedder: %v", err)
	}
	vespaDense, err := embed.NewDense(embed.DenseConfig{
		APIKey:     cfg.OpenAIAPIKey,
		VectorSize: 768,
	})
	if err != nil {
		log.Fatalf("syncworker: build vespa dense embedder: %v", err)
	}
	sparse := embed.NewSparse()
	semanticChunker := chunker.NewSemantic(chunker.DefaultSemanticConfig())
	codeChunker := chunker.NewCode(chunker.DefaultCodeConfig(), nil)

	checkpoint, err := orchestrator.OpenCheckpoint(cfg.Storage.TempDir + "/checkpoints.db")
	if err != nil {
		log.Fatalf("syncworker: open checkpoint store: %v", err)
	}
	defer checkpoint.Close()

	jobStore := orchestrator.NewInMemoryJobStore()

	rawDataIndex, err := rawdata.NewIndex(context.Background(), cfg.RawDataIndex.URL, cfg.RawDataIndex.User, cfg.RawDataIndex.Password, cfg.RawDataIndex.Database)
	if err != nil {
		log.Fatalf("syncworker: open raw-data index: %v", err)
	}

	build := func(ctx context.Context, sync entity.Sync, forceFullSync bool) (*orchestrator.JobDeps, error) {
		driver, ok := registry.Get(sync.SourceShortName)
		if !ok {
			return nil, fmt.Errorf("syncworker: no driver registered for source %q", sync.SourceShortName)
		}
		if driver.Metadata().RateLimitLevel != source.RateLimitNone {
			driver = source.NewRateLimitedDriver(driver, orgLimiter, buildRateLimiter(cfg.RateLimit, sync.SourceShortName))
		}

		jobID := uuid.NewString()
		rawData, err := rawdata.New(ctx, storageBackend, rawDataIndex, sync.ID)
		if err != nil {
			return nil, fmt.Errorf("syncworker: build raw-data service: %w", err)
		}

		downloader := download.New(storageBackend, buildRateLimiter(cfg.RateLimit, sync.SourceShortName), tokenManager, jobID)

		slots, err := buildDestinationSlots(ctx, sync, dense, vespaDense, sparse, semanticChunker, codeChunker)
		if err != nil {
			return nil, fmt.Errorf("syncworker: build destination slots: %w", err)
		}

		pool := pipeline.NewPool(pipeline.Config{
			SourceName:      sync.SourceShortName,
			SyncID:          sync.ID,
			SyncJobID:       jobID,
			ConnectionID:    sync.ConnectionID,
			SourceShortName: sync.SourceShortName,
			Dedup:           pipeline.NewDedupIndex(),
			Downloader:      downloader,
			Backend:         storageBackend,
			Destinations:    slots,
			RawData:         rawData,
			Concurrency:     cfg.EntityWorkers,
		})

		cleanup := func(ctx context.Context) error {
			return downloader.CleanupSyncDirectory(ctx, []string{cfg.Storage.TempDir + "/processing/" + jobID})
		}

		return &orchestrator.JobDeps{Driver: driver, Pipeline: pool, RawData: rawData, CleanupFiles: cleanup}, nil
	}

	orch := orchestrator.New(jobStore, checkpoint, build)

	var taskQueue workerruntime.TaskQueue
	switch cfg.TaskQueue.Backend {
	case "amqp":
		taskQueue, err = workerruntime.NewAMQPTaskQueue(cfg.TaskQueue.AMQPURL, cfg.TaskQueue.Queue)
	default:
		taskQueue, err = buildRedisTaskQueue(cfg.TaskQueue)
	}
	if err != nil {
		log.Fatalf("syncworker: build task queue: %v", err)
	}
	defer taskQueue.Close()

	runtime := workerruntime.New(workerruntime.Config{
		WorkerID:     cfg.ServiceID + "-" + uuid.NewString()[:8],
		Queue:        taskQueue,
		Orchestrator: orch,
		LookupSync:   syncStore.Lookup,
		Concurrency:  cfg.ActivityPollers,
		Namespace:    "syncengine",
	})

	serverCfg := workerruntime.DefaultServerConfig()
	serverCfg.Port = cfg.ControlPort
	serverCfg.ShutdownTimeout = cfg.GracefulShutdownTimeout
	controlServer := runtime.ControlServer(serverCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := fmt.Sprintf(":%d", serverCfg.Port)
		if err := controlServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.ErrorErr(err, "control server stopped")
		}
	}()

	go cleanupStuckJobsLoop(ctx, orch, logger)

	logger.Infof("syncworker %s started: control port %d, %d activity pollers", cfg.ServiceID, cfg.ControlPort, cfg.ActivityPollers)
	if err := runtime.Run(ctx); err != nil {
		logger.ErrorErr(err, "runtime exited with error")
	}

	if err := workerruntime.Shutdown(controlServer, cfg.GracefulShutdownTimeout); err != nil {
		logger.ErrorErr(err, "control server shutdown error")
	}
	logger.Info("syncworker stopped")
}

// cleanupStuckJobsLoop periodically force-cancels jobs that have exceeded
// the stuck thresholds, per spec.md §4.14's "a monitor detects and
// force-cancels" requirement.
func cleanupStuckJobsLoop(ctx context.Context, orch *orchestrator.Orchestrator, logger *logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := orch.CleanupStuckJobs(ctx)
			if err != nil {
				logger.ErrorErr(err, "cleanup stuck jobs")
				continue
			}
			if cleaned > 0 {
				logger.Infof("cleanup: force-cancelled %d stuck jobs", cleaned)
			}
		}
	}
}

func buildStorageBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3Backend(context.Background(), cfg.S3Region, cfg.S3Bucket)
	case "azure":
		return storage.NewAzureBlobBackend(cfg.AzureAccountURL, cfg.AzureContainer)
	default:
		return storage.NewFilesystemBackend(cfg.FSBasePath)
	}
}

func buildRateLimiter(cfg config.RateLimitConfig, scope string) ratelimit.Limiter {
	if cfg.RedisURL == "" {
		return ratelimit.NewLocal(scope, cfg.LocalBucketRPS, cfg.LocalBucketBurst)
	}
	distributed, err := ratelimit.NewDistributed(cfg.RedisURL, scope, int64(cfg.LocalBucketRPS), time.Second)
	if err != nil {
		return ratelimit.NewLocal(scope, cfg.LocalBucketRPS, cfg.LocalBucketBurst)
	}
	return distributed
}

func buildRedisTaskQueue(cfg config.TaskQueueConfig) (workerruntime.TaskQueue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("syncworker: parse task queue redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return workerruntime.NewRedisTaskQueue(client, cfg.Queue), nil
}

func buildDestinationSlots(
	ctx context.Context,
	sync entity.Sync,
	dense *embed.Dense,
	vespaDense *embed.Dense,
	sparse *embed.Sparse,
	semanticChunker *chunker.Semantic,
	codeChunker *chunker.Code,
) ([]pipeline.DestinationSlot, error) {
	slots := make([]pipeline.DestinationSlot, 0, len(sync.Destinations))
	for _, slot := range sync.Destinations {
		var dest destination.Destination
		var err error
		switch slot.DestinationType {
		case "qdrant":
			processor := &contentprocessor.QdrantChunkEmbed{Semantic: semanticChunker, Code: codeChunker, Dense: dense, Sparse: sparse}
			dest, err = destination.NewQdrant(ctx, destination.QdrantConfig{
				BaseURL:    slot.Endpoint,
				Collection: slot.CollectionRef,
				VectorSize: 1536,
			}, processor)
		case "vespa":
			processor := &contentprocessor.VespaChunkEmbed{Semantic: semanticChunker, Code: codeChunker, Dense: vespaDense}
			dest = destination.NewVespa(destination.VespaConfig{
				BaseURL:      slot.Endpoint,
				Namespace:    sync.CollectionID,
				DocumentType: slot.CollectionRef,
			}, processor)
		default:
			return nil, fmt.Errorf("syncworker: unknown destination type %q", slot.DestinationType)
		}
		if err != nil {
			return nil, err
		}
		slots = append(slots, pipeline.DestinationSlot{
			Dest:       dest,
			State:      slot.State,
			AcceptsNew: slot.State == entity.SlotActive || slot.State == entity.SlotShadow,
		})
	}
	return slots, nil
}
