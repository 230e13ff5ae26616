// Package ledger records batch runs in PostgreSQL.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bgricker/contractpipe/internal/report"
)

// ErrDuplicateRun is returned when a run id was already recorded.
var ErrDuplicateRun = errors.New("run already recorded")

// Config holds the connection settings.
type Config struct {
	URL             string        `yaml:"url"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultConfig returns pool settings suitable for a single CLI process.
func DefaultConfig() Config {
	return Config{
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("ledger url is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("ledger ping_timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("ledger max_open_conns must be >= 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("ledger max_idle_conns must be between 0 and max_open_conns")
	}
	return nil
}

// Open connects through the pgx stdlib driver and pings the server.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Tx is the subset of *sql.Tx the ledger needs.
type Tx interface {
	execer
	Commit() error
	Rollback() error
}

// DB is the subset of *sql.DB the ledger needs.
type DB interface {
	execer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

type sqlDB struct {
	*sql.DB
}

func (d sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	return d.DB.BeginTx(ctx, opts)
}

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL,
	run_index       INTEGER NOT NULL,
	status          TEXT NOT NULL,
	complexity      TEXT,
	vulnerabilities TEXT,
	contract        TEXT,
	report          TEXT,
	failed_step     TEXT,
	error           TEXT,
	started_at      TIMESTAMPTZ NOT NULL,
	duration_ms     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS pipeline_step_results (
	run_id      TEXT NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	kind        TEXT,
	detail      TEXT,
	duration_ms BIGINT NOT NULL,
	PRIMARY KEY (run_id, position)
);`

const insertRun = `INSERT INTO pipeline_runs
	(id, batch_id, run_index, status, complexity, vulnerabilities, contract, report, failed_step, error, started_at, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const insertStep = `INSERT INTO pipeline_step_results
	(run_id, position, name, status, kind, detail, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Ledger writes run rows and one row per executed step.
type Ledger struct {
	db DB
}

// New wraps an open connection pool.
func New(db *sql.DB) *Ledger {
	return newLedger(sqlDB{db})
}

func newLedger(db DB) *Ledger {
	return &Ledger{db: db}
}

// Migrate creates the ledger tables when missing.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// Record stores run under batchID in one transaction. Steps that never ran
// are not stored.
func (l *Ledger) Record(ctx context.Context, batchID string, run report.Run) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, insertRun,
		run.ID, batchID, run.Index, run.Status,
		nullable(run.Complexity), nullable(strings.Join(run.Vulnerabilities, ",")),
		nullable(run.Contract), nullable(run.Report), nullable(run.FailedStep), nullable(run.Error),
		run.StartedAt.UTC(), run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, mapError(err))
	}
	for i, step := range run.Steps {
		if step.Status == report.StatusSkipped {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertStep,
			run.ID, i+1, step.Name, step.Status, nullable(step.Kind), nullable(step.Detail), step.DurationMS,
		); err != nil {
			return fmt.Errorf("insert step %s of run %s: %w", step.Name, run.ID, mapError(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, pgErr.Message)
	}
	return err
}
