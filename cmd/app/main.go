// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subsearch-pipeline/internal/config"
	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/domain/ports/repository"
	"subsearch-pipeline/internal/infra/adapters/provider"
	pg "subsearch-pipeline/internal/infra/db/postgres"
	"subsearch-pipeline/internal/infra/db/sqlite"
	"subsearch-pipeline/internal/infra/logging"
	"subsearch-pipeline/internal/infra/metrics"
	"subsearch-pipeline/internal/infra/ratelimit"
	red "subsearch-pipeline/internal/infra/redis"
	"subsearch-pipeline/internal/infra/sched"
	"subsearch-pipeline/internal/infra/scheduler"
	"subsearch-pipeline/internal/infra/web"
	"subsearch-pipeline/internal/infra/worker"
	"subsearch-pipeline/internal/usecase"

	"github.com/rs/zerolog"
)

// Set through -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

type stores struct {
	records repository.RecordRepository
	jobs    repository.JobRepository
	close   func()
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, mock-friendly defaults)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("pipeline exited")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("db", cfg.Database.Driver).Bool("dev", cfg.Runtime.Dev).Msg("starting pipeline")

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer c.Close()
		redisClient = c
	}

	// ---- Storage ----
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()
	records := st.records
	if redisClient != nil {
		records = red.NewRecordRepoCacheDecorator(records, redisClient, cfg.Redis.TTL, logger)
	}

	// ---- Rate limiter ----
	var limiter adapter.RateLimiter = ratelimit.NewPacer(cfg.Pipeline.RateLimitDelay)
	if cfg.Pipeline.RateLimiter == "redis" {
		limiter = red.NewPacer(redisClient, cfg.Pipeline.RateLimitDelay, limiter, logger)
	}

	// ---- Provider ----
	prov, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	// ---- Pipeline ----
	fetcher := worker.NewFetcher(prov, limiter, worker.FetcherOptions{
		PageSize:     cfg.Provider.PageSize,
		PageRetries:  cfg.Pipeline.PageRetries,
		RetryBackoff: cfg.Pipeline.PageRetryBackoff,
		LimitCap:     cfg.Pipeline.LimitCap,
	}, logger)
	executor := worker.NewJobExecutor(records, fetcher, worker.BufferOptions{
		BatchSize:     cfg.Pipeline.BatchSize,
		Capacity:      cfg.Pipeline.BufferCapacity,
		FlushInterval: cfg.Pipeline.FlushInterval,
	}, cfg.Pipeline.CacheScanLimit, logger)

	eta := usecase.NewETAEstimator(cfg.Pipeline.ETAWindow, cfg.Pipeline.ETAFallback)
	jobs := usecase.NewScheduler(usecase.SchedulerConfig{
		MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
		JobTimeout:        cfg.Pipeline.JobTimeout,
		HistorySize:       cfg.Pipeline.HistorySize,
	}, executor, st.jobs, eta, logger)

	retries := sched.NewRetryCoordinator(jobs, sched.RetryOptions{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		Cooldown:     cfg.Pipeline.RetryCooldown,
		ScanInterval: cfg.Pipeline.RetryScanInterval,
	}, logger)
	jobs.OnFailure(retries.OnFailure)

	if err := jobs.Recover(ctx, cfg.Pipeline.ETAWindow); err != nil {
		logger.Warn().Err(err).Msg("job recovery incomplete")
	}
	if _, err := retries.Restore(ctx, st.jobs); err != nil {
		logger.Warn().Err(err).Msg("pending retries not restored")
	}
	jobs.Start(ctx)
	defer jobs.Stop()

	go func() { _ = retries.Run(ctx) }()
	reaper := sched.NewReaperWorker(cfg.Pipeline.ReaperInterval, jobs, logger)
	go func() { _ = reaper.Run(ctx) }()

	// ---- Auto-ingest ----
	if cfg.AutoIngest.Enabled {
		var locker scheduler.Locker
		if redisClient != nil {
			locker = red.NewLocker(redisClient)
		}
		words := provider.NewRandomWordSource(cfg.AutoIngest.RandomWordURL, logger)
		auto := scheduler.New(jobs, words, locker, scheduler.Options{
			IngestSpec:     cfg.AutoIngest.Cron,
			Keywords:       cfg.AutoIngest.Keywords,
			Limit:          cfg.AutoIngest.Limit,
			MinSubscribers: cfg.AutoIngest.MinSubscribers,
			IdleSpec:       cfg.AutoIngest.IdleCheckCron,
			IdleAfter:      cfg.AutoIngest.IdleAfter,
			RunOnStart:     !cfg.Runtime.Dev,
		}, logger)
		if err := auto.Start(ctx); err != nil {
			return fmt.Errorf("auto-ingest: %w", err)
		}
		defer auto.Stop()
	}

	// ---- HTTP API ----
	auth := web.NewAuthManager(cfg.Security.JWTSecret, cfg.Security.APIKey, !cfg.Runtime.Dev, 30*time.Minute)
	srv := web.NewServer(cfg.HTTP, jobs, records, jobs, auth, logger)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-srvErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
		cancel()
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*stores, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info().Str("path", cfg.Database.Path).Msg("using sqlite store")
		return &stores{
			records: sqlite.NewRecordRepo(db),
			jobs:    sqlite.NewJobRepo(db),
			close:   func() { _ = db.Close() },
		}, nil
	default:
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)
		tm := pg.NewTxManager(pool)
		return &stores{
			records: pg.NewRecordRepo(pool, tm),
			jobs:    pg.NewJobRepo(pool),
			close:   pool.Close,
		}, nil
	}
}

func newProvider(cfg *config.Config, logger *zerolog.Logger) (adapter.Provider, error) {
	if cfg.Provider.Kind == "mock" {
		logger.Info().Msg("using mock provider")
		return provider.NewMockAdapter(provider.MockAdapterOptions{Latency: 50 * time.Millisecond}), nil
	}
	httpProv, err := provider.NewHTTPAdapter(provider.HTTPAdapterOptions{
		BaseURL:   cfg.Provider.BaseURL,
		UserAgent: cfg.Provider.UserAgent,
		Timeout:   cfg.Provider.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	return provider.NewBreakerProvider(httpProv, provider.BreakerOptions{
		MaxRequests: cfg.Provider.BreakerMaxRequests,
		Interval:    cfg.Provider.BreakerInterval,
		Timeout:     cfg.Provider.BreakerTimeout,
	}, logger), nil
}
