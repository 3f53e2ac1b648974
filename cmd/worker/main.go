// Package main is the entrypoint for the StyleDNA analysis worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cheekymohnkey/styledna/internal/cache"
	"github.com/cheekymohnkey/styledna/internal/config"
	"github.com/cheekymohnkey/styledna/internal/inference"
	"github.com/cheekymohnkey/styledna/internal/queue"
	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/internal/worker"
)

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
	slog.Info("config loaded",
		"queue_mode", cfg.Queue.Mode,
		"inference_provider", cfg.Inference.Provider,
		"max_attempts", cfg.Worker.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	queueAdapter, err := queue.New(cfg.Queue, pool)
	if err != nil {
		return fmt.Errorf("create queue adapter: %w", err)
	}
	defer queueAdapter.Close()
	slog.Info("queue adapter initialized", "mode", cfg.Queue.Mode)

	provider, err := inference.NewProvider(cfg.Inference)
	if err != nil {
		return fmt.Errorf("create inference provider: %w", err)
	}
	slog.Info("inference provider initialized", "provider", provider.Name())

	pgStore := store.NewPostgresStore(pool)
	w := worker.New(pgStore, queueAdapter, redisCache, provider, cfg.Worker)

	slog.Info("worker started")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker run: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
