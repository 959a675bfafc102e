package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"adminreports/internal/config"
	"adminreports/internal/operations"
	"adminreports/pkg/contracts/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	config      TEXT NOT NULL,
	status      TEXT NOT NULL,
	phase       TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	records     INTEGER NOT NULL DEFAULT 0,
	artifacts   TEXT NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT '',
	error_type  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at DESC);
`

// runRow is the column layout of the runs table
type runRow struct {
	ID         string       `db:"id"`
	Kind       string       `db:"kind"`
	Config     string       `db:"config"`
	Status     string       `db:"status"`
	Phase      string       `db:"phase"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	Records    int          `db:"records"`
	Artifacts  string       `db:"artifacts"`
	Error      string       `db:"error"`
	ErrorType  string       `db:"error_type"`
}

// RunStore keeps the run history in SQLite
type RunStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ operations.RunStore = (*RunStore)(nil)

// Open connects to the database named by cfg.DSN and creates the schema.
// The parent directory of a file DSN is created when missing.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*RunStore, error) {
	if dir := filepath.Dir(cfg.DSN); !strings.HasPrefix(cfg.DSN, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	// SQLite allows one writer
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the schema
func New(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (*RunStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create run schema: %w", err)
	}
	return &RunStore{db: db, logger: logger.With(slog.String("component", "run_store"))}, nil
}

// Close closes the database
func (s *RunStore) Close() error {
	return s.db.Close()
}

// Create inserts a new run
func (s *RunStore) Create(ctx context.Context, run *operations.RunRecord) error {
	row, err := toRow(run)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, kind, config, status, phase, started_at, finished_at, records, artifacts, error, error_type)
		VALUES (:id, :kind, :config, :status, :phase, :started_at, :finished_at, :records, :artifacts, :error, :error_type)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	s.logger.DebugContext(ctx, "run_created", slog.String("operation_id", run.ID))
	return nil
}

// Update overwrites the mutable columns of an existing run
func (s *RunStore) Update(ctx context.Context, run *operations.RunRecord) error {
	row, err := toRow(run)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE runs SET status = :status, phase = :phase, finished_at = :finished_at,
			records = :records, artifacts = :artifacts, error = :error, error_type = :error_type
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, operations.ErrOperationNotFound)
	}
	s.logger.DebugContext(ctx, "run_updated",
		slog.String("operation_id", run.ID),
		slog.String("status", string(run.Status)))
	return nil
}

// Get returns one run
func (s *RunStore) Get(ctx context.Context, id string) (*operations.RunRecord, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, operations.ErrOperationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return row.record()
}

// List returns the newest runs first. A limit <= 0 returns every run.
func (s *RunStore) List(ctx context.Context, limit int) ([]*operations.RunRecord, error) {
	query := `SELECT * FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*operations.RunRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRow(run *operations.RunRecord) (runRow, error) {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return runRow{}, fmt.Errorf("failed to encode run config: %w", err)
	}
	artifacts := run.Artifacts
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	arts, err := json.Marshal(artifacts)
	if err != nil {
		return runRow{}, fmt.Errorf("failed to encode artifacts: %w", err)
	}

	row := runRow{
		ID:        run.ID,
		Kind:      string(run.Kind),
		Config:    string(cfg),
		Status:    string(run.Status),
		Phase:     string(run.Phase),
		StartedAt: run.StartedAt.UTC(),
		Records:   run.Records,
		Artifacts: string(arts),
		Error:     run.Error,
		ErrorType: string(run.ErrorType),
	}
	if run.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	return row, nil
}

func (r runRow) record() (*operations.RunRecord, error) {
	rec := &operations.RunRecord{
		ID:        r.ID,
		Kind:      domain.ReportKind(r.Kind),
		Status:    operations.OperationStatusValue(r.Status),
		Phase:     operations.RunPhase(r.Phase),
		StartedAt: r.StartedAt,
		Records:   r.Records,
		Error:     r.Error,
		ErrorType: operations.ErrorType(r.ErrorType),
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		rec.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(r.Config), &rec.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Artifacts), &rec.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to decode artifacts of run %s: %w", r.ID, err)
	}
	return rec, nil
}
