// Command server starts the Videoflix transcoding pipeline and delivery
// gateway in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"videoflix/internal/api"
	"videoflix/internal/artifact"
	"videoflix/internal/auth"
	"videoflix/internal/config"
	"videoflix/internal/encoder"
	"videoflix/internal/lease"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/pipeline"
	"videoflix/internal/queue"
	"videoflix/internal/registry"
	"videoflix/internal/server"
)

func main() {
	configPath := flag.String("config", "videoflix.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := run(&cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.Default()

	artifacts, err := artifact.NewStore(cfg.Media.Root)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	store, storeCleanup, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer storeCleanup()

	jobQueue, err := buildQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer jobQueue.Close()

	leaser := buildLeaser(cfg)

	keychain, err := auth.NewKeychain(cfg.Auth.Keys)
	if err != nil {
		return fmt.Errorf("load auth keychain: %w", err)
	}

	ladder := make([]encoder.Spec, 0, len(cfg.Renditions))
	for _, spec := range cfg.Renditions {
		ladder = append(ladder, encoder.Spec{
			Label:       spec.Label,
			Height:      spec.Height,
			BitrateKbps: spec.Bitrate,
		})
	}

	reconciler := pipeline.NewReconciler(store, artifacts, recorder, cfg.Pipeline.SweepInterval(), logger)
	go reconciler.Run(ctx)

	trigger := pipeline.NewTrigger(store, jobQueue, reconciler, logger)
	trigger.Start(ctx)
	defer trigger.Stop()

	worker := pipeline.NewWorker(pipeline.WorkerConfig{
		Registry:          store,
		Queue:             jobQueue,
		Leaser:            leaser,
		Artifacts:         artifacts,
		Executor:          encoder.NewFFmpeg(cfg.Pipeline.FFmpegPath, logger),
		Renditions:        ladder,
		Workers:           cfg.Pipeline.Workers,
		RenditionParallel: cfg.Pipeline.RenditionParallel,
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		RetryBackoff:      cfg.Pipeline.RetryBackoff(),
		EncodeTimeout:     cfg.Pipeline.EncodeTimeout(),
		LeaseTTL:          cfg.Pipeline.LeaseTTL(),
		Metrics:           recorder,
		Logger:            logger,
	})
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	defer worker.Wait()

	handler := api.NewHandler(api.Options{
		Registry:      store,
		Artifacts:     artifacts,
		Authenticator: keychain,
		Recorder:      recorder,
		Labels:        cfg.Labels(),
		Logger:        logger,
	})

	srv := server.New(handler, server.Config{
		Addr:            cfg.Server.Addr,
		Logger:          logger,
		Metrics:         recorder,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
	})
	return srv.Run(ctx)
}

func buildRegistry(ctx context.Context, cfg *config.Config) (registry.Store, func(), error) {
	switch cfg.Registry.Driver {
	case "postgres":
		store, err := registry.NewPostgresStore(ctx, cfg.Registry.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres registry: %w", err)
		}
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}
		return store, cleanup, nil
	default:
		return registry.NewMemoryStore(), func() {}, nil
	}
}

func buildQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		q, err := queue.NewRedisQueue(queue.RedisConfig{
			Addr:       cfg.Queue.RedisAddr,
			Password:   cfg.Queue.RedisPassword,
			Stream:     cfg.Queue.Stream,
			Group:      cfg.Queue.Group,
			Redelivery: cfg.Queue.Redelivery(),
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis queue: %w", err)
		}
		return q, nil
	default:
		return queue.NewMemoryQueue(cfg.Queue.Redelivery()), nil
	}
}

func buildLeaser(cfg *config.Config) lease.Leaser {
	if cfg.Queue.Driver == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
		})
		return lease.NewRedisLeaser(client)
	}
	return lease.NewMemoryLeaser()
}
