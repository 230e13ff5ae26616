package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bgricker/contractpipe/internal/report"
)

type execCall struct {
	query string
	args  []any
}

// fakeDB records statements. Statements issued inside a transaction only
// reach committed once Commit is called. failOn, when set, limits err to
// statements containing that text.
type fakeDB struct {
	calls      []execCall
	committed  []execCall
	err        error
	failOn     string
	commits    int
	rollbacks  int
	beginError error
}

func (f *fakeDB) exec(query string, args []any) error {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.err != nil && (f.failOn == "" || strings.Contains(query, f.failOn)) {
		return f.err
	}
	return nil
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := f.exec(query, args); err != nil {
		return nil, err
	}
	f.committed = append(f.committed, f.calls[len(f.calls)-1])
	return driverResult(1), nil
}

func (f *fakeDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	if f.beginError != nil {
		return nil, f.beginError
	}
	return &fakeTx{db: f}, nil
}

type fakeTx struct {
	db      *fakeDB
	pending []execCall
	done    bool
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := t.db.exec(query, args); err != nil {
		return nil, err
	}
	t.pending = append(t.pending, t.db.calls[len(t.db.calls)-1])
	return driverResult(1), nil
}

func (t *fakeTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.commits++
	t.db.committed = append(t.db.committed, t.pending...)
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.rollbacks++
	return nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func sampleRun() report.Run {
	return report.Run{
		ID:              "run-1",
		Index:           2,
		Status:          report.StatusFailed,
		Complexity:      "high",
		Vulnerabilities: []string{"tx-origin", "suicidal"},
		FailedStep:      "compile",
		Error:           "solc failed",
		StartedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DurationMS:      1500,
		Steps: []report.StepResult{
			{Name: "generate", Status: report.StatusPassed, DurationMS: 1000},
			{Name: "compile", Status: report.StatusFailed, Kind: "fatal", Detail: "solc failed", DurationMS: 500},
			{Name: "analyze", Status: report.StatusSkipped},
		},
	}
}

func TestRecordWritesRunAndExecutedSteps(t *testing.T) {
	db := &fakeDB{}
	if err := newLedger(db).Record(context.Background(), "batch-1", sampleRun()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(db.committed) != 3 || db.commits != 1 {
		t.Fatalf("expected 1 run row and 2 step rows in one commit, got %d statements, %d commits", len(db.committed), db.commits)
	}
	run := db.calls[0]
	if !strings.Contains(run.query, "INSERT INTO pipeline_runs") {
		t.Fatalf("unexpected first statement %q", run.query)
	}
	if run.args[0] != "run-1" || run.args[1] != "batch-1" || run.args[2] != 2 {
		t.Fatalf("unexpected run args %v", run.args[:3])
	}
	if v := run.args[5].(sql.NullString); v.String != "tx-origin,suicidal" || !v.Valid {
		t.Fatalf("unexpected vulnerabilities arg %+v", v)
	}
	if v := run.args[6].(sql.NullString); v.Valid {
		t.Fatalf("empty contract must be NULL")
	}
	for i, want := range []string{"generate", "compile"} {
		call := db.calls[i+1]
		if !strings.Contains(call.query, "pipeline_step_results") || call.args[2] != want {
			t.Fatalf("step %d: unexpected statement %q %v", i, call.query, call.args)
		}
	}
}

func TestRecordRollsBackWhenStepInsertFails(t *testing.T) {
	boom := errors.New("step insert failed")
	db := &fakeDB{err: boom, failOn: "pipeline_step_results"}
	err := newLedger(db).Record(context.Background(), "batch-1", sampleRun())
	if !errors.Is(err, boom) {
		t.Fatalf("expected step error, got %v", err)
	}
	if db.rollbacks != 1 || db.commits != 0 {
		t.Fatalf("expected rollback without commit, got %d rollbacks %d commits", db.rollbacks, db.commits)
	}
	if len(db.committed) != 0 {
		t.Fatalf("run row must not persist without its steps: %v", db.committed)
	}
}

func TestRecordBeginFailure(t *testing.T) {
	boom := errors.New("pool exhausted")
	db := &fakeDB{beginError: boom}
	if err := newLedger(db).Record(context.Background(), "b", sampleRun()); !errors.Is(err, boom) {
		t.Fatalf("expected begin error, got %v", err)
	}
	if len(db.calls) != 0 {
		t.Fatalf("no statements expected, got %d", len(db.calls))
	}
}

func TestRecordMapsUniqueViolation(t *testing.T) {
	db := &fakeDB{err: &pgconn.PgError{Code: "23505", Message: "duplicate key"}}
	err := newLedger(db).Record(context.Background(), "batch-1", sampleRun())
	if !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("expected ErrDuplicateRun, got %v", err)
	}
}

func TestRecordPassesOtherErrors(t *testing.T) {
	boom := errors.New("connection refused")
	err := newLedger(&fakeDB{err: boom}).Record(context.Background(), "b", sampleRun())
	if !errors.Is(err, boom) || errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	if err := newLedger(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0].query, "CREATE TABLE IF NOT EXISTS pipeline_runs") {
		t.Fatalf("unexpected migration %v", db.calls)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected url error")
	}
	cfg.URL = "postgres://localhost/contractpipe"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cfg.MaxIdleConns = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected idle conns error")
	}
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("Open must validate first")
	}
}
