// Package sqlite stores records and job history in a single SQLite file for
// single-node deployments and the demo binary.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	key              TEXT PRIMARY KEY,
	name             TEXT     NOT NULL,
	title            TEXT     NOT NULL DEFAULT '',
	description      TEXT     NOT NULL DEFAULT '',
	url              TEXT     NOT NULL DEFAULT '',
	subscribers      INTEGER  NOT NULL DEFAULT 0,
	nsfw             BOOLEAN  NOT NULL DEFAULT 0,
	unmoderated      BOOLEAN  NOT NULL DEFAULT 0,
	mod_count        INTEGER,
	last_activity_at DATETIME,
	source           TEXT     NOT NULL DEFAULT '',
	keyword          TEXT     NOT NULL DEFAULT '',
	job_id           TEXT     NOT NULL DEFAULT '',
	first_seen_at    DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_subscribers ON records (subscribers);
CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records (updated_at);

CREATE TABLE IF NOT EXISTS query_runs (
	id               TEXT PRIMARY KEY,
	source           TEXT     NOT NULL,
	priority         INTEGER  NOT NULL,
	state            TEXT     NOT NULL,
	params           TEXT     NOT NULL DEFAULT '{}',
	checked          INTEGER  NOT NULL DEFAULT 0,
	found            INTEGER  NOT NULL DEFAULT 0,
	phase            TEXT     NOT NULL DEFAULT 'queued',
	result_count     INTEGER  NOT NULL DEFAULT 0,
	error            TEXT     NOT NULL DEFAULT '',
	retryable        BOOLEAN  NOT NULL DEFAULT 0,
	attempt          INTEGER  NOT NULL DEFAULT 0,
	retried_from     TEXT     NOT NULL DEFAULT '',
	submitted_at     DATETIME NOT NULL,
	started_at       DATETIME,
	completed_at     DATETIME,
	last_progress_at DATETIME,
	duration_ms      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_query_runs_state ON query_runs (state, submitted_at);
CREATE INDEX IF NOT EXISTS idx_query_runs_retried_from ON query_runs (retried_from);
`

// Open opens (creating if needed) the database at path in WAL mode and
// applies the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

var _ repository.TransactionManager = (*TxManager)(nil)

type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTx runs fn in a *sql.Tx. Only the read-only flag of txOpt applies.
func (m *TxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: txOpt.AccessMode == pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getExecutor(db *sql.DB, tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case *sql.Tx:
		return v, nil
	case *sql.DB:
		return v, nil
	case nil:
		if db != nil {
			return db, nil
		}
		return nil, domain.ErrInvalidArgument
	default:
		return nil, domain.ErrInvalidExecContext
	}
}
