// Package items persists Item records, the unit of storage of the live store.
package items

import (
	"context"
	"time"

	"github.com/akorchak/notekeeper/internal/models"
)

// Filter narrows List queries. Zero value selects every non-archived item.
type Filter struct {
	// Categories restricts to items in any of the listed categories.
	Categories []string

	// CreatedFrom / CreatedTo bound the creation timestamp (inclusive).
	CreatedFrom *time.Time
	CreatedTo   *time.Time

	// UpdatedAfter selects items modified strictly after the instant.
	UpdatedAfter *time.Time

	// IncludeArchived also returns archived items.
	IncludeArchived bool
}

// Repository is the live-store contract for items. Every write is its own
// transaction: no caller holds a lock across more than one item.
type Repository interface {
	Insert(ctx context.Context, item *models.Item) error
	Update(ctx context.Context, item *models.Item) error

	// Upsert overwrites the stored item regardless of its current state.
	Upsert(ctx context.Context, item *models.Item) error
	// UpsertNewer overwrites only if the incoming UpdatedAt is newer.
	UpsertNewer(ctx context.Context, item *models.Item) error
	// InsertIgnore inserts only when the id is absent.
	InsertIgnore(ctx context.Context, item *models.Item) error

	// UpdateContent rewrites the body text without touching UpdatedAt, so
	// lossless optimizer rewrites do not masquerade as user edits.
	UpdateContent(ctx context.Context, id, content string) error

	// SetArchived flips the archived flag and replaces the metadata map.
	SetArchived(ctx context.Context, id string, archived bool, metadata map[string]string) error

	// SetTags replaces the tag set.
	SetTags(ctx context.Context, id string, tags []string) error

	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Item, error)
	List(ctx context.Context, f Filter) ([]models.Item, error)
	Count(ctx context.Context) (int, error)
	Categories(ctx context.Context) ([]string, error)
}
