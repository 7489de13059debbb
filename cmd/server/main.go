// Package main is the entrypoint for the VivaCampo acquisition API server.
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

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/handler"
	mw "github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/middleware"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/insight"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/metrics"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/factory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	requestsPerMin  = 120
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()})))
	slog.Info("config loaded", "env", cfg.Server.Env, "queue_backend", cfg.Queue.Backend)

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Queue publisher for backfills and retries
	q, err := queue.New(ctx, cfg, redisCache.Client(), consumerName("api"))
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	// 6. Build router with dependencies
	pgStore := store.NewPostgresStore(pool)
	router := newRouter(routerDeps{
		store:    pgStore,
		cache:    redisCache,
		breakers: breaker.NewRedisStore(redisCache.Client()),
		enqueuer: jobs.NewEnqueuer(pgStore, q, slog.Default()),
		rules:    rules,
	})

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type routerDeps struct {
	store    store.Store
	cache    cache.Cache
	breakers breaker.Store
	enqueuer *jobs.Enqueuer
	rules    config.Rules
	now      func() time.Time
}

// newRouter wires every handler against its concrete dependencies.
func newRouter(d routerDeps) http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(d.store),
		RateLimit: mw.NewRateLimit(d.cache, requestsPerMin),
		Metrics:   metrics.Default.Handler(),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": d.store,
			"cache":    d.cache,
		}),
		ListJobs:     handler.NewListJobsHandler(d.store),
		GetJob:       handler.NewGetJobHandler(d.store),
		RetryJob:     handler.NewRetryJobHandler(d.enqueuer),
		Backfill:     handler.NewBackfillHandler(d.store, d.enqueuer),
		ListSignals:  handler.NewSignalsHandler(d.store),
		ListAlerts:   handler.NewAlertsHandler(d.store),
		GetInsights:  handler.NewInsightsHandler(insight.NewEngine(d.store, d.rules), d.now),
		ListBreakers: handler.NewBreakersHandler(d.breakers, factory.Names()),
		CreateKey:    handler.NewCreateKeyHandler(d.store),
		ListKeys:     handler.NewListKeysHandler(d.store),
		RevokeKey:    handler.NewRevokeKeyHandler(d.store),
	})
}

// consumerName identifies this process to the queue backend.
func consumerName(role string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", role, host, os.Getpid())
}
