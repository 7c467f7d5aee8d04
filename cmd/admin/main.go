// Command admin hosts the pipeline's thin management API: manual
// source registration/triggering and queue/dead-letter inspection
// (SPEC_FULL.md §1.1: "cmd/admin ... kept small and mounted as its own
// binary so the core module has no HTTP-framework dependency forced on
// it"). It shares internal/config, internal/queue, and
// internal/registry with cmd/worker but never touches the collaborator
// clients or the stage pipelines themselves.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"contentpipe/internal/config"
	"contentpipe/internal/observability/logging"
	"contentpipe/internal/queue"
	"contentpipe/internal/registry"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Queue.StoreURL != "" {
		opts, err := redis.ParseURL(cfg.Queue.StoreURL)
		if err != nil {
			logger.Error("invalid QUEUE_STORE_URL, falling back to in-memory queue store", slog.Any("error", err))
		} else {
			rdb = redis.NewClient(opts)
			if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
				logger.Error("redis unreachable, falling back to in-memory queue store", slog.Any("error", pingErr))
				rdb = nil
			}
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var store queue.Store
	if rdb == nil {
		logger.Warn("admin API running against an in-memory queue store; it will not see jobs enqueued by a separate cmd/worker process")
		store = queue.NewMemoryStore()
	} else {
		store = queue.NewRedisStore(rdb, "contentpipe:queue:")
	}
	defer store.Close()

	reg := registry.New(store)

	srv := newServer(cfg.Admin, store, reg, logger)

	go func() {
		logger.Info("admin API starting", slog.Int("port", cfg.Admin.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin API server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping admin API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin API shutdown error", slog.Any("error", err))
	}
	logger.Info("admin API stopped")
}
