// Package backups persists BackupRecord rows describing snapshot artifacts.
package backups

import (
	"context"
	"time"

	"github.com/akorchak/notekeeper/internal/models"
)

// Repository is the persistence contract for backup records.
type Repository interface {
	Insert(ctx context.Context, rec *models.BackupRecord) error

	// Complete finalizes a record in a single write: size/count fields and
	// the completed status land together, never separately.
	Complete(ctx context.Context, rec *models.BackupRecord) error

	// MarkFailed records a terminal failure with its message.
	MarkFailed(ctx context.Context, id, errMsg string) error

	GetByID(ctx context.Context, id string) (*models.BackupRecord, error)

	// List returns records ordered newest first.
	List(ctx context.Context) ([]models.BackupRecord, error)

	// Delete removes the record. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// ExpireOlder flips completed records whose expiry has passed to
	// expired and returns them so artifacts can be removed.
	ExpireOlder(ctx context.Context, now time.Time) ([]models.BackupRecord, error)
}
