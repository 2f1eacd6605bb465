package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"subsearch-pipeline/internal/config"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/infra/adapters/provider"
	"subsearch-pipeline/internal/infra/db/sqlite"
	"subsearch-pipeline/internal/infra/logging"
	"subsearch-pipeline/internal/infra/ratelimit"
	"subsearch-pipeline/internal/infra/sched"
	"subsearch-pipeline/internal/infra/worker"
	"subsearch-pipeline/internal/usecase"
)

// demo runs the whole pipeline in-process against a throwaway sqlite file
// and the synthetic provider, then prints what landed in the store.
func main() {
	logger := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dir, err := os.MkdirTemp("", "pipeline-demo-*")
	if err != nil {
		logger.Fatal().Err(err).Msg("temp dir")
	}
	defer os.RemoveAll(dir)

	db, err := sqlite.Open(ctx, filepath.Join(dir, "demo.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("sqlite")
	}
	defer db.Close()
	records := sqlite.NewRecordRepo(db)
	jobRepo := sqlite.NewJobRepo(db)

	prov := provider.NewMockAdapter(provider.MockAdapterOptions{Pages: 4, Latency: 20 * time.Millisecond})
	fetcher := worker.NewFetcher(prov, ratelimit.NewPacer(50*time.Millisecond), worker.FetcherOptions{PageSize: 25}, logger)
	executor := worker.NewJobExecutor(records, fetcher, worker.BufferOptions{BatchSize: 16, FlushInterval: time.Second}, 5000, logger)

	jobs := usecase.NewScheduler(usecase.SchedulerConfig{MaxConcurrentJobs: 1, JobTimeout: 30 * time.Second},
		executor, jobRepo, usecase.NewETAEstimator(10, 5*time.Second), logger)
	retries := sched.NewRetryCoordinator(jobs, sched.RetryOptions{MaxAttempts: 2, Cooldown: time.Second}, logger)
	jobs.OnFailure(retries.OnFailure)
	go func() { _ = retries.Run(ctx) }()

	// Submitted before Start so admission order is decided by priority alone.
	submissions := []struct {
		priority int
		source   model.JobSource
		params   model.JobParams
	}{
		{model.PriorityBackground, model.SourceAutoIngest, model.JobParams{Keyword: "science", Limit: 60}},
		{model.PriorityInteractive, model.SourceManual, model.JobParams{Keyword: "golang", Limit: 80, MinSubscribers: 1000}},
		{model.PriorityInteractive, model.SourceManual, model.JobParams{Keyword: "golang", Limit: 40, UnmoderatedOnly: true}},
	}
	var ids []string
	for _, s := range submissions {
		id, err := jobs.Submit(ctx, s.source, s.priority, s.params)
		if err != nil {
			logger.Fatal().Err(err).Msg("submit")
		}
		ids = append(ids, id)
	}
	for _, item := range jobs.ListQueue() {
		fmt.Printf("queued #%d %-8s %-11s p%d eta_start=%ds\n", item.Position, item.Keyword, item.Source, item.Priority, item.ETAStartSeconds)
	}

	jobs.Start(ctx)
	defer jobs.Stop()

	for !jobs.Idle() {
		select {
		case <-ctx.Done():
			logger.Fatal().Msg("demo timed out")
		case <-time.After(200 * time.Millisecond):
		}
	}

	for _, id := range ids {
		v, err := jobs.Status(ctx, id)
		if err != nil {
			logger.Error().Err(err).Str("job_id", id).Msg("status")
			continue
		}
		fmt.Printf("job %s %-9s checked=%d found=%d results=%d\n", v.ID, v.State, v.Progress.Checked, v.Progress.Found, v.ResultCount)
	}

	page, err := records.Query(ctx, model.RecordQuery{Q: "golang", PageSize: 5})
	if err != nil {
		logger.Fatal().Err(err).Msg("query")
	}
	fmt.Printf("\n%d stored records match \"golang\"; top %d:\n", page.Total, len(page.Rows))
	for _, r := range page.Rows {
		fmt.Printf("  %-20s subs=%-8d unmoderated=%t\n", r.Name, r.Subscribers, r.Unmoderated)
	}
	st := jobs.Stats()
	fmt.Printf("\ncompleted=%d failed=%d eta_per_job=%s\n", st.TotalCompleted, st.TotalFailed, jobs.Estimate())
}
