package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"subsearch-pipeline/internal/config"
	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/domain/ports/repository"
	"subsearch-pipeline/internal/infra/adapters/provider"
	pg "subsearch-pipeline/internal/infra/db/postgres"
	"subsearch-pipeline/internal/infra/db/sqlite"
	"subsearch-pipeline/internal/infra/logging"
	"subsearch-pipeline/internal/infra/worker"
)

// seed fills the record store with synthetic listings so the browse API has
// data without touching the real provider.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	keywords := flag.String("keywords", "golang,rust,python,music,science,gaming", "comma separated keywords")
	pages := flag.Int("pages", 5, "pages per keyword")
	workers := flag.Int("workers", 4, "parallel keywords")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var repo repository.RecordRepository
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite")
		}
		defer db.Close()
		repo = sqlite.NewRecordRepo(db)
	default:
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		repo = pg.NewRecordRepo(pool, pg.NewTxManager(pool))
	}

	mock := provider.NewMockAdapter(provider.MockAdapterOptions{Pages: *pages})
	var inserted, updated atomic.Int64

	wp := worker.NewPool(*workers, logger)
	wp.Start(ctx)
	for _, kw := range strings.Split(*keywords, ",") {
		kw := strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		err := wp.Submit(ctx, func(ctx context.Context) error {
			cursor := ""
			for {
				page, err := mock.FetchPage(ctx, adapter.PageQuery{Keyword: kw, Cursor: cursor, PageSize: cfg.Provider.PageSize})
				if err != nil {
					return fmt.Errorf("%s: %w", kw, err)
				}
				res, err := repo.Upsert(ctx, repository.NoTX, page.Items)
				if err != nil {
					return fmt.Errorf("%s: %w", kw, err)
				}
				inserted.Add(int64(res.Inserted))
				updated.Add(int64(res.Updated))
				if page.NextCursor == "" {
					return nil
				}
				cursor = page.NextCursor
			}
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("submit")
		}
	}
	if err := wp.Wait(); err != nil {
		logger.Error().Err(err).Msg("seeding finished with errors")
	}

	st, err := repo.Stats(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("stats")
	}
	logger.Info().
		Int64("inserted", inserted.Load()).
		Int64("updated", updated.Load()).
		Int("total_records", st.TotalRecords).
		Msg("seeding complete")
}
