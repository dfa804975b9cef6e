// Package sessions persists ImportSession rows tracking asynchronous imports.
package sessions

import (
	"context"
	"time"

	"github.com/akorchak/notekeeper/internal/models"
)

// Repository is the persistence contract for import sessions.
type Repository interface {
	Insert(ctx context.Context, s *models.ImportSession) error
	GetByID(ctx context.Context, id string) (*models.ImportSession, error)

	// SetStatus records a lifecycle transition.
	SetStatus(ctx context.Context, id string, status models.ImportStatus) error

	// SetTotals records the parsed item count and byte size once validation
	// finishes.
	SetTotals(ctx context.Context, id string, totalItems int, totalBytes int64) error

	// IncrementProgress bumps processed_items plus the matching outcome
	// counter in one atomic statement, so progress is observable after
	// every record.
	IncrementProgress(ctx context.Context, id string, succeeded bool) error

	// SetFindings replaces the stored findings list.
	SetFindings(ctx context.Context, id string, findings []models.Finding) error

	// MarkCompleted / MarkFailed set the terminal state.
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error
}
