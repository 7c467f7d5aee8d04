// Command worker runs the content pipeline's fetch/normalize/media/
// enrichment stages (SPEC_FULL.md §1.1: "cmd/worker: the pipeline
// itself"). It wires every internal package together, starts the
// worker runtime, and serves /metrics and /health endpoints until it
// receives a shutdown signal.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"contentpipe/internal/breaker"
	"contentpipe/internal/cms"
	"contentpipe/internal/config"
	"contentpipe/internal/dedup"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/embedder"
	"contentpipe/internal/enrichment"
	"contentpipe/internal/fetch"
	"contentpipe/internal/media"
	"contentpipe/internal/normalize"
	"contentpipe/internal/objectstore"
	"contentpipe/internal/observability/logging"
	"contentpipe/internal/queue"
	"contentpipe/internal/ratelimit"
	"contentpipe/internal/summarize"
	"contentpipe/internal/transcriber"
	"contentpipe/internal/worker"
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

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
	}, logger)

	var rdb *redis.Client
	if cfg.Queue.StoreURL != "" {
		opts, err := redis.ParseURL(cfg.Queue.StoreURL)
		if err != nil {
			logger.Error("invalid QUEUE_STORE_URL, falling back to in-memory stores", slog.Any("error", err))
		} else {
			rdb = redis.NewClient(opts)
			if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
				logger.Error("redis unreachable, falling back to in-memory stores", slog.Any("error", pingErr))
				rdb = nil
			}
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	jobQueue := buildQueueStore(rdb, logger)
	dedupSvc := buildDedupService(rdb, logger)
	rateLimitMetrics := ratelimit.NewPrometheusMetrics()
	limiter := buildRateLimiter(rdb, cfg.RateLimit, rateLimitMetrics, logger)

	cmsClient := cms.New(cfg.CMS, breakers)
	objectStore := objectstore.New(cfg.ObjectStore, breakers)
	transcriberClient := transcriber.New(cfg.Transcriber, breakers)
	embedderClient := embedder.Get(cfg.Embedder, breakers)
	downloader := media.NewDownloader(cfg.Media, breakers)
	summarizer := summarize.New(cfg.Summarizer, breakers, logger)

	mediaPipeline := media.NewPipeline(cfg.Media, cmsClient, objectStore, jobQueue, downloader, logger)
	enrichmentStage := enrichment.NewStage(cmsClient, transcriberClient, embedderClient, downloader, summarizer, cfg.Media, logger)
	normalizeStage := normalize.NewStage(cmsClient, dedupSvc, jobQueue, cfg.Normalize, logger)

	dispatcher := fetch.NewDispatcher(buildFetchAdapters(cfg, breakers, jobQueue, logger), limiter, jobQueue, logger)

	runtime := worker.New(jobQueue, worker.Config{
		VisibilityLease:     cfg.Worker.VisibilityLease,
		ReapInterval:        cfg.Worker.ReapInterval,
		GCInterval:          cfg.Worker.GCInterval,
		ShutdownGracePeriod: cfg.Worker.ShutdownGracePeriod,
	}, logger)

	runtime.Register(worker.QueuePool{
		Queue:       entity.QueueFetch,
		Concurrency: cfg.Worker.FetchConcurrency,
		Handler:     fetchHandler(dispatcher),
	})
	runtime.Register(worker.QueuePool{
		Queue:       entity.QueueNormalize,
		Concurrency: cfg.Worker.NormalizeConcurrency,
		Handler:     normalizeHandler(normalizeStage),
	})
	runtime.Register(worker.QueuePool{
		Queue:       entity.QueueMedia,
		Concurrency: cfg.Worker.MediaConcurrency,
		Handler:     mediaHandler(mediaPipeline),
	})
	runtime.Register(worker.QueuePool{
		Queue:       entity.QueueEnrichment,
		Concurrency: cfg.Worker.EnrichmentConcurrency,
		Handler:     enrichmentHandler(enrichmentStage),
	})

	ready := &readyFlag{}
	startMetricsServer(ctx, logger, metricsPort(cfg.Worker.HealthPort), breakers, ready, rateLimitMetrics)

	runtime.Start(ctx)
	ready.set(true)
	logger.Info("worker ready",
		slog.Int("fetch_concurrency", cfg.Worker.FetchConcurrency),
		slog.Int("normalize_concurrency", cfg.Worker.NormalizeConcurrency),
		slog.Int("media_concurrency", cfg.Worker.MediaConcurrency),
		slog.Int("enrichment_concurrency", cfg.Worker.EnrichmentConcurrency))

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping worker runtime")
	ready.set(false)
	runtime.Shutdown()
	logger.Info("worker stopped")
}

func buildQueueStore(rdb *redis.Client, logger *slog.Logger) queue.Store {
	if rdb == nil {
		logger.Info("using in-memory queue store")
		return queue.NewMemoryStore()
	}
	logger.Info("using redis-backed queue store")
	return queue.NewRedisStore(rdb, "contentpipe:queue:")
}

func buildDedupService(rdb *redis.Client, logger *slog.Logger) *dedup.Service {
	const dedupTTL = 72 * time.Hour
	if rdb == nil {
		logger.Info("using in-memory dedup store")
		return dedup.NewService(dedup.NewMemoryStore(), dedupTTL)
	}
	logger.Info("using redis-backed dedup store")
	return dedup.NewService(dedup.NewRedisStore(rdb, "contentpipe:dedup:"), dedupTTL)
}

func buildRateLimiter(rdb *redis.Client, cfg config.RateLimitConfig, rlMetrics *ratelimit.PrometheusMetrics, logger *slog.Logger) *ratelimit.Limiter {
	override := ratelimit.KindWindow{Window: cfg.WindowOverride, MaxRequests: cfg.MaxRequestsOverride}

	var store ratelimit.Store
	if rdb == nil {
		logger.Info("using in-memory rate limit store")
		store = ratelimit.NewMemoryStore(ratelimit.DefaultMemoryStoreConfig())
	} else {
		logger.Info("using redis-backed rate limit store")
		store = ratelimit.NewRedisStore(rdb, "contentpipe:ratelimit:", time.Hour)
	}
	return ratelimit.NewLimiter(store, &ratelimit.SystemClock{}, rlMetrics, override)
}

// buildFetchAdapters wires one Adapter per SourceKind that has the
// collaborators it needs configured; kinds with no adapter in the map
// are skipped by the dispatcher (spec.md §4.F).
func buildFetchAdapters(cfg config.Config, breakers *breaker.Registry, jobQueue queue.Store, logger *slog.Logger) map[entity.SourceKind]fetch.Adapter {
	httpClient := createHTTPClient()

	allowlist, err := fetch.LoadAllowlist(cfg.Providers.SourceAllowlistPath)
	if err != nil {
		logger.Warn("failed to load source allowlist, scraping all domains", slog.Any("error", err))
		allowlist = nil
	}

	adapters := map[entity.SourceKind]fetch.Adapter{
		entity.SourceKindFeed:             fetch.NewFeedAdapter(httpClient, breakers),
		entity.SourceKindPodcastFeed:      fetch.NewFeedAdapter(httpClient, breakers),
		entity.SourceKindWebsite:          fetch.NewWebsiteAdapter(breakers, allowlist),
		entity.SourceKindPodcastDiscovery: fetch.NewPodcastDiscoveryAdapter(httpClient, breakers, jobQueue),
		entity.SourceKindUpload:           fetch.NewUploadAdapter(),
	}

	if cfg.Providers.VideoChannelAPIKey != "" {
		adapters[entity.SourceKindVideoChannel] = fetch.NewVideoChannelAdapter(cfg.Providers, breakers)
	} else {
		logger.Info("VIDEO_CHANNEL_API_KEY not set, VIDEO_CHANNEL adapter disabled")
	}
	if cfg.Providers.ForumAPIKey != "" {
		adapters[entity.SourceKindForum] = fetch.NewForumAdapter(cfg.Providers, breakers)
	} else {
		logger.Info("FORUM_API_KEY not set, FORUM adapter disabled")
	}
	if cfg.Providers.MicroblogAPIKey != "" {
		adapters[entity.SourceKindMicroblog] = fetch.NewMicroblogAdapter(cfg.Providers, breakers)
	} else {
		logger.Info("MICROBLOG_API_KEY not set, MICROBLOG adapter disabled")
	}

	return adapters
}

func fetchHandler(d *fetch.Dispatcher) worker.Handler {
	return func(ctx context.Context, env *entity.JobEnvelope) error {
		var job entity.FetchJob
		if err := json.Unmarshal(env.Payload, &job); err != nil {
			return fmt.Errorf("unmarshal fetch job: %w", err)
		}
		return d.Run(ctx, env.JobID, job)
	}
}

func normalizeHandler(s *normalize.Stage) worker.Handler {
	return func(ctx context.Context, env *entity.JobEnvelope) error {
		var job entity.NormalizeJob
		if err := json.Unmarshal(env.Payload, &job); err != nil {
			return fmt.Errorf("unmarshal normalize job: %w", err)
		}
		_, err := s.Process(ctx, job)
		return err
	}
}

func mediaHandler(p *media.Pipeline) worker.Handler {
	return func(ctx context.Context, env *entity.JobEnvelope) error {
		var job entity.MediaJob
		if err := json.Unmarshal(env.Payload, &job); err != nil {
			return fmt.Errorf("unmarshal media job: %w", err)
		}
		return p.Run(ctx, job)
	}
}

func enrichmentHandler(s *enrichment.Stage) worker.Handler {
	return func(ctx context.Context, env *entity.JobEnvelope) error {
		var job entity.EnrichmentJob
		if err := json.Unmarshal(env.Payload, &job); err != nil {
			return fmt.Errorf("unmarshal enrichment job: %w", err)
		}
		return s.Run(ctx, job)
	}
}

// createHTTPClient builds a connection-pooled, TLS-hardened client
// shared by the feed/podcast-discovery fetch adapters.
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}
