package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cnabflow/ingestor/internal/api"
	"github.com/cnabflow/ingestor/internal/ingestionfront"
	lockredis "github.com/cnabflow/ingestor/internal/lock/redis"
	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/metrics"
	"github.com/cnabflow/ingestor/internal/objectstore"
	"github.com/cnabflow/ingestor/internal/objectstore/s3"
	"github.com/cnabflow/ingestor/internal/processingengine"
	queueredis "github.com/cnabflow/ingestor/internal/queue/redis"
	"github.com/cnabflow/ingestor/internal/recoveryloop"
	"github.com/cnabflow/ingestor/internal/registry/postgres"
	"github.com/cnabflow/ingestor/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ingestion pipeline",
	Long: `Start the CNAB ingestion pipeline: the HTTP upload/admin API, the
processing engine's worker pool, and the stuck-upload recovery loop, all
sharing one PostgreSQL registry, one S3-compatible object store, and one
Redis connection (queue + distributed lock).

Runs in the foreground until SIGINT/SIGTERM, then drains in-flight work
before exiting.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.Telemetry(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.Profiling.Profiling(cfg.Telemetry.ServiceName, Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("starting cnabflow ingestor", "version", Version)

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	reg, err := postgres.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := s3.NewFromConfig(ctx, s3.Config{
		Region:         cfg.ObjectStore.Region,
		Endpoint:       cfg.ObjectStore.Endpoint,
		ForcePathStyle: cfg.ObjectStore.ForcePathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	objectstore.BootstrapAsync(ctx, store, cfg.ObjectStore.Bucket, func(err error) {
		if err != nil {
			logger.Warn("object store bucket bootstrap failed", "bucket", cfg.ObjectStore.Bucket, "error", err)
		}
	})

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis client close error", "error", err)
		}
	}()

	q := queueredis.New(redisClient)
	lk := lockredis.New(redisClient)
	ingestionMetrics := metrics.NewIngestionMetrics()

	engine := processingengine.New(cfg.ProcessingEngine, store, reg, q, lk, ingestionMetrics)
	front := ingestionfront.New(cfg.IngestionFront, store, cfg.ObjectStore.Bucket, reg, q, engine, ingestionMetrics)
	recovery := recoveryloop.New(cfg.Recovery, reg, q, ingestionMetrics)

	apiServer := api.NewServer(cfg.API, front, reg, recovery)
	metricsServer := metrics.NewServer(cfg.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Start(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return recovery.Run(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metricsServer.Start(gctx) })
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ingestion pipeline is running", "api_port", cfg.API.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, draining in-flight work")
		cancel()
	case <-gctx.Done():
		logger.Warn("a component stopped unexpectedly, shutting down")
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown did not complete within %s", cfg.ShutdownTimeout)
	}
	if waitErr != nil && waitErr != context.Canceled {
		logger.Error("ingestion pipeline stopped with error", "error", waitErr)
		return waitErr
	}

	logger.Info("ingestion pipeline stopped gracefully")
	return nil
}
