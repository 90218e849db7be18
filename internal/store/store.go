// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/sidekick/internal/advisor"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
)

// Repository persists pacing snapshots, the trigger batch log and advice.
type Repository interface {
	// SaveSnapshot stores a pacing state snapshot.
	SaveSnapshot(ctx context.Context, state pacing.State, takenAt time.Time) error

	// LatestSnapshot returns the newest snapshot, or nil when none exists.
	LatestSnapshot(ctx context.Context) (*pacing.State, error)

	// PruneSnapshots keeps the newest keep snapshots and returns how many were removed.
	PruneSnapshots(ctx context.Context, keep int) (int64, error)

	// RecordBatch appends a flushed batch to the log.
	RecordBatch(ctx context.Context, batch domain.TriggerBatch) error

	// ListBatches returns up to limit batches, newest first.
	ListBatches(ctx context.Context, limit int) ([]domain.TriggerBatch, error)

	// RecordAdvice stores one advice chunk.
	RecordAdvice(ctx context.Context, adv *advisor.Advice) error

	// ListAdvice returns advice for a batch in arrival order.
	ListAdvice(ctx context.Context, batchID string) ([]*advisor.Advice, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

var _ advisor.Recorder = Repository(nil)
