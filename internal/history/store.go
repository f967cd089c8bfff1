// Package history journals pipeline runs to a local SQLite database so
// operators can answer "what did it just do and why". Retention follows the
// configured mode: ephemeral keeps nothing, session and persistent keep rows
// on disk with day- and count-based pruning.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmiclabs/vmic-core/internal/config"
	_ "modernc.org/sqlite"
)

// Run is one journaled pipeline execution.
type Run struct {
	RunID      string
	RequestID  string
	Kind       string
	Voice      string
	Success    bool
	ErrorKind  string
	Stage      string
	Warnings   []string
	Targets    []string
	Transcript string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageEvent is one timeline entry within a run.
type StageEvent struct {
	ID        int64
	RunID     string
	Stage     string
	Detail    string
	CreatedAt time.Time
}

// Store wraps the SQLite-backed run journal.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. Ephemeral mode returns a
// store with no database; every write becomes a no-op.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    request_id TEXT,
    kind TEXT NOT NULL,
    voice TEXT,
    success INTEGER NOT NULL,
    error_kind TEXT,
    stage TEXT,
    warnings TEXT,
    targets TEXT,
    transcript TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_created ON run_events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun writes or replaces the journal row for a run.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock().UTC()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, request_id, kind, voice, success, error_kind, stage, warnings, targets, transcript, started_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   voice=excluded.voice, success=excluded.success, error_kind=excluded.error_kind,
		   stage=excluded.stage, warnings=excluded.warnings, targets=excluded.targets,
		   transcript=excluded.transcript, finished_at=excluded.finished_at`,
		run.RunID, run.RequestID, run.Kind, run.Voice, boolToInt(run.Success),
		run.ErrorKind, run.Stage, strings.Join(run.Warnings, "\n"), strings.Join(run.Targets, ","),
		run.Transcript, run.StartedAt.UTC(), run.FinishedAt.UTC())
	return err
}

// AppendStageEvent records one stage transition for a run. The run row must
// exist first or the foreign key rejects the event.
func (s *Store) AppendStageEvent(ctx context.Context, runID, stage, detail string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events(run_id, stage, detail, created_at) VALUES(?, ?, ?, ?)`,
		runID, stage, detail, s.clock().UTC())
	return err
}

// ListRecentRuns returns up to limit runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, request_id, kind, voice, success, error_kind, stage, warnings, targets, transcript, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var success int
		var warnings, targets, started, finished string
		if err := rows.Scan(&r.RunID, &r.RequestID, &r.Kind, &r.Voice, &success,
			&r.ErrorKind, &r.Stage, &warnings, &targets, &r.Transcript, &started, &finished); err != nil {
			return nil, err
		}
		r.Success = success != 0
		if warnings != "" {
			r.Warnings = strings.Split(warnings, "\n")
		}
		if targets != "" {
			r.Targets = strings.Split(targets, ",")
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			r.FinishedAt = ts
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunEvents retrieves up to limit events for a run ordered ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]StageEvent, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, detail, created_at
		 FROM run_events WHERE run_id = ? ORDER BY created_at ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var e StageEvent
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Detail, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM run_events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
