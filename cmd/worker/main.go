// Package main is the entrypoint for the VivaCampo pipeline worker. It
// consumes jobs from the configured queue and optionally runs the weekly
// scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/metrics"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/objectstore"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/pipeline"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/factory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/scheduler"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/tiler"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Mongo.URI == "" {
		return fmt.Errorf("load config: MONGO_URI is required by the worker")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	pgStore := store.NewPostgresStore(pool)
	logger.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	objects, err := objectstore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Bucket)
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = objects.Close(closeCtx)
	}()
	logger.Info("object store connected", "database", cfg.Mongo.Database, "bucket", cfg.Mongo.Bucket)

	q, err := queue.New(ctx, cfg, redisCache.Client(), consumerName())
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()
	logger.Info("queue ready", "backend", cfg.Queue.Backend, "name", cfg.Queue.Name)

	providers, err := factory.New(cfg.Providers)
	if err != nil {
		return fmt.Errorf("create providers: %w", err)
	}
	sceneCache := cache.NewSceneCache(redisCache, cfg.Cache.SceneTTL, cfg.Cache.StaleRetention)
	ch := buildChains(providers, breaker.NewRedisStore(redisCache.Client()), sceneCache, cfg.Breaker, logger)

	enqueuer := jobs.NewEnqueuer(pgStore, q, logger)
	p := pipeline.New(pipeline.Deps{
		Store:    pgStore,
		Enqueuer: enqueuer,
		Optical:  ch.optical,
		Radar:    ch.radar,
		Weather:  ch.weather,
		Tiler:    tiler.NewClient(cfg.Tiler.BaseURL, cfg.Tiler.Timeout),
		Ring:     tiler.NewRing(cfg.Tiler.CacheNodes),
		Cache:    redisCache,
		Objects:  objects,
		Rules:    rules,
	}, pipeline.WithSettings(pipelineSettings(cfg)), pipeline.WithLogger(logger))

	dispatcher := jobs.NewDispatcher(pgStore, logger, jobs.WithRequeueDelay(cfg.Worker.RequeueDelay))
	p.Register(dispatcher)
	logger.Info("handlers registered", "job_types", len(dispatcher.Registered()))

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	if cfg.Worker.SchedulerEnabled {
		sched := scheduler.New(pgStore, enqueuer, cfg.Worker.SchedulerInterval, scheduler.WithLogger(logger))
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped", "error", err)
			}
		}()
	}

	err = jobs.NewPool(q, dispatcher, cfg.Worker.Concurrency, logger).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("metrics shutdown", "error", serr)
	}
	logger.Info("worker stopped")
	return err
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Default.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// consumerName identifies this process within the consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("worker-%s-%d", host, os.Getpid())
}
