// Package syncops persists the durable journal of pending sync operations.
package syncops

import (
	"context"
	"time"

	"github.com/akorchak/notekeeper/internal/models"
)

// Repository is the journal contract consumed by the sync queue worker.
type Repository interface {
	Insert(ctx context.Context, op *models.SyncOperation) error
	GetByID(ctx context.Context, id string) (*models.SyncOperation, error)

	// SelectBatch returns up to limit pending operations ordered by
	// (priority desc, created_at asc). An operation is withheld while an
	// earlier operation for the same entity is still pending or processing,
	// which preserves per-entity ordering.
	SelectBatch(ctx context.Context, limit int) ([]models.SyncOperation, error)

	// Claim transitions pending -> processing. Returns false if the
	// operation was already claimed or is no longer pending, giving the
	// worker single-flight per operation id.
	Claim(ctx context.Context, id string) (bool, error)

	// MarkCompleted transitions processing -> completed and stamps
	// processed_at.
	MarkCompleted(ctx context.Context, id string, processedAt time.Time) error

	// Release returns a failed attempt to pending with the bumped retry
	// count and last error recorded.
	Release(ctx context.Context, id string, retryCount int, lastError string) error

	// MarkFailed transitions to the terminal failed state.
	MarkFailed(ctx context.Context, id string, lastError string) error

	// MarkCancelled transitions to the terminal cancelled state.
	MarkCancelled(ctx context.Context, id string) error

	// DropExpired deletes pending operations whose expiry has passed.
	// They are removed without side effects, never marked failed.
	DropExpired(ctx context.Context, now time.Time) (int64, error)

	CountByStatus(ctx context.Context) (map[models.SyncOpStatus]int, error)
}
