// Package main is the entrypoint for the StyleDNA API server.
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

	"github.com/go-playground/validator/v10"

	"github.com/cheekymohnkey/styledna/internal/admin"
	"github.com/cheekymohnkey/styledna/internal/api"
	"github.com/cheekymohnkey/styledna/internal/api/handler"
	mw "github.com/cheekymohnkey/styledna/internal/api/middleware"
	"github.com/cheekymohnkey/styledna/internal/api/response"
	"github.com/cheekymohnkey/styledna/internal/cache"
	"github.com/cheekymohnkey/styledna/internal/config"
	"github.com/cheekymohnkey/styledna/internal/jobs"
	"github.com/cheekymohnkey/styledna/internal/monitor"
	"github.com/cheekymohnkey/styledna/internal/queue"
	"github.com/cheekymohnkey/styledna/internal/store"
)

const shutdownTimeout = 30 * time.Second

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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "queue_mode", cfg.Queue.Mode, "env", cfg.Server.Env)

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
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
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

	// 5. Create queue adapter
	queueAdapter, err := queue.New(cfg.Queue, pool)
	if err != nil {
		return fmt.Errorf("create queue adapter: %w", err)
	}
	defer queueAdapter.Close()
	slog.Info("queue adapter initialized", "mode", cfg.Queue.Mode)

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)
	jobSvc := jobs.NewService(pgStore, queueAdapter, redisCache,
		modelFamilyFor(cfg.Inference.Provider), modelVersionFor(cfg.Inference))
	adminSvc := admin.NewService(pgStore, redisCache, jobSvc)
	mon := monitor.New(pgStore, queueAdapter, cfg.Monitor)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)
	validate := validator.New()

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:    healthHandler(pgStore, redisCache, queueAdapter),
		SubmitHandler:    handler.NewSubmitHandler(jobSvc, validate),
		GetJobHandler:    handler.NewGetJobHandler(jobSvc),
		GetResultHandler: handler.NewGetResultHandler(jobSvc),

		ApproveHandler:    handler.NewJobActionHandler(adminSvc.Approve, validate),
		RejectHandler:     handler.NewJobActionHandler(adminSvc.Reject, validate),
		FlagHandler:       handler.NewJobActionHandler(adminSvc.Flag, validate),
		RemoveHandler:     handler.NewJobActionHandler(adminSvc.Remove, validate),
		RerunHandler:      handler.NewJobActionHandler(adminSvc.Rerun, validate),
		ModerationHandler: handler.NewModerationHandler(adminSvc),
		GetPolicyHandler:  handler.NewGetPolicyHandler(adminSvc),
		SetPolicyHandler:  handler.NewSetPolicyHandler(adminSvc, validate),
		OpsStatusHandler:  handler.NewOpsStatusHandler(mon),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
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

func modelFamilyFor(provider string) string {
	return provider
}

func modelVersionFor(cfg config.InferenceConfig) string {
	switch cfg.Provider {
	case "openai":
		return cfg.OpenAI.Model
	case "ollama":
		return cfg.Ollama.Model
	default:
		return "v1"
	}
}

// healthHandler checks database, cache, and queue connectivity.
func healthHandler(s store.Store, c cache.Cache, q queue.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if health := q.Healthcheck(r.Context()); !health.OK {
			checks["queue"] = "degraded"
		}

		degraded := false
		for _, v := range checks {
			if v != "ok" {
				degraded = true
				break
			}
		}
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
