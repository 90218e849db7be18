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
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/sidekick/internal/advisor"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
	"github.com/ashureev/sidekick/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the tick worker write snapshots while the API reads.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS pacing_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at INTEGER NOT NULL,
		assistant_state TEXT NOT NULL,
		state_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON pacing_snapshots(taken_at);

	CREATE TABLE IF NOT EXISTS trigger_batches (
		batch_id TEXT PRIMARY KEY,
		flushed_at INTEGER NOT NULL,
		highest_priority INTEGER NOT NULL,
		event_count INTEGER NOT NULL,
		events_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batches_flushed ON trigger_batches(flushed_at);

	CREATE TABLE IF NOT EXISTS advice (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		priority INTEGER NOT NULL,
		content TEXT NOT NULL,
		sources_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_advice_batch ON advice(batch_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveSnapshot stores a pacing state snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, state pacing.State, takenAt time.Time) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return shared.RetryOnConflict(ctx, "save snapshot", s.retry, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO pacing_snapshots (taken_at, assistant_state, state_json) VALUES (?, ?, ?)`,
			takenAt.UnixNano(), string(state.AssistantState), string(raw))
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	})
}

// LatestSnapshot returns the newest snapshot, or nil when none exists.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*pacing.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM pacing_snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`)

	var raw string
	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	var state pacing.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &state, nil
}

// PruneSnapshots keeps the newest keep snapshots.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	var removed int64
	err := shared.RetryOnConflict(ctx, "prune snapshots", s.retry, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM pacing_snapshots WHERE id NOT IN (
				SELECT id FROM pacing_snapshots ORDER BY taken_at DESC, id DESC LIMIT ?
			)`, keep)
		if err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// RecordBatch appends a flushed batch to the log. Re-recording a batch ID is a no-op.
func (s *SQLiteStore) RecordBatch(ctx context.Context, batch domain.TriggerBatch) error {
	raw, err := json.Marshal(batch.Events)
	if err != nil {
		return fmt.Errorf("marshal batch events: %w", err)
	}
	return shared.RetryOnConflict(ctx, "record batch", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trigger_batches (batch_id, flushed_at, highest_priority, event_count, events_json)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(batch_id) DO NOTHING`,
			batch.ID, batch.FlushedAt.UnixNano(), int(batch.HighestPriority()), len(batch.Events), string(raw))
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return nil
	})
}

// ListBatches returns up to limit batches, newest first.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit int) ([]domain.TriggerBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, flushed_at, events_json FROM trigger_batches
		ORDER BY flushed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("[STORE] Failed to close batch rows", "error", closeErr)
		}
	}()

	var batches []domain.TriggerBatch
	for rows.Next() {
		var (
			b         domain.TriggerBatch
			flushedAt int64
			raw       string
		)
		if err := rows.Scan(&b.ID, &flushedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &b.Events); err != nil {
			return nil, fmt.Errorf("unmarshal batch %s: %w", b.ID, err)
		}
		b.FlushedAt = time.Unix(0, flushedAt)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// RecordAdvice stores one advice chunk.
func (s *SQLiteStore) RecordAdvice(ctx context.Context, adv *advisor.Advice) error {
	var sources any
	if len(adv.Sources) > 0 {
		raw, err := json.Marshal(adv.Sources)
		if err != nil {
			return fmt.Errorf("marshal advice sources: %w", err)
		}
		sources = string(raw)
	}
	createdAt := adv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return shared.RetryOnConflict(ctx, "record advice", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO advice (batch_id, kind, priority, content, sources_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			adv.BatchID, string(adv.Kind), int(adv.Priority), adv.Content, sources, createdAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert advice: %w", err)
		}
		return nil
	})
}

// ListAdvice returns advice for a batch in arrival order.
func (s *SQLiteStore) ListAdvice(ctx context.Context, batchID string) ([]*advisor.Advice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, kind, priority, content, sources_json, created_at
		FROM advice WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query advice: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("[STORE] Failed to close advice rows", "error", closeErr)
		}
	}()

	var out []*advisor.Advice
	for rows.Next() {
		var (
			a         advisor.Advice
			kind      string
			priority  int
			sources   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&a.BatchID, &kind, &priority, &a.Content, &sources, &createdAt); err != nil {
			return nil, fmt.Errorf("scan advice row: %w", err)
		}
		a.Kind = advisor.AdviceKind(kind)
		a.Priority = domain.TriggerPriority(priority)
		a.CreatedAt = time.Unix(0, createdAt)
		if sources.Valid {
			if err := json.Unmarshal([]byte(sources.String), &a.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal advice sources: %w", err)
			}
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate advice: %w", err)
	}
	return out, nil
}
