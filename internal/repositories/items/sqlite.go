package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/dbx"
	"github.com/akorchak/notekeeper/internal/models"
)

// timeLayout is how timestamps are stored. The fraction is zero-padded to a
// fixed nine digits so UTC timestamps sort lexicographically; RFC3339Nano
// would drop a zero fraction and make whole seconds sort after fractional
// ones. The SQL comparisons below rely on this.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const itemColumns = `id, title, content, category, tags, is_template, archived, metadata, created_at, updated_at`

func (r *SQLiteRepository) Insert(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, item *models.Item) error {
	query := `UPDATE items SET title=?, content=?, category=?, tags=?, is_template=?, archived=?, metadata=?, updated_at=? WHERE id=?`
	tags, meta, err := encodeTagsMeta(item)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query,
		item.Title, item.Content, item.Category, tags,
		item.IsTemplate, item.Archived, meta,
		item.UpdatedAt.UTC().Format(timeLayout), item.Id)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return requireOneRow(res, item.Id)
}

func (r *SQLiteRepository) Upsert(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			category = excluded.category,
			tags = excluded.tags,
			is_template = excluded.is_template,
			archived = excluded.archived,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpsertNewer(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			category = excluded.category,
			tags = excluded.tags,
			is_template = excluded.is_template,
			archived = excluded.archived,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at > items.updated_at`
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to merge item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertIgnore(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateContent(ctx context.Context, id, content string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE items SET content=? WHERE id=?`, content, id)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) SetArchived(ctx context.Context, id string, archived bool, metadata map[string]string) error {
	meta, err := json.Marshal(orEmptyMap(metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE items SET archived=?, metadata=? WHERE id=?`,
		archived, string(meta), id)
	if err != nil {
		return fmt.Errorf("failed to set archived flag: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) SetTags(ctx context.Context, id string, tags []string) error {
	b, err := json.Marshal(orEmptySlice(tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE items SET tags=? WHERE id=?`, string(b), id)
	if err != nil {
		return fmt.Errorf("failed to set tags: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id=?`, id); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	item, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]models.Item, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeArchived {
		where = append(where, "archived=0")
	}
	if len(f.Categories) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Categories)), ",")
		where = append(where, "category IN ("+ph+")")
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedFrom.UTC().Format(timeLayout))
	}
	if f.CreatedTo != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedTo.UTC().Format(timeLayout))
	}
	if f.UpdatedAfter != nil {
		where = append(where, "updated_at > ?")
		args = append(args, f.UpdatedAfter.UTC().Format(timeLayout))
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []models.Item
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT category FROM items WHERE category != '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to select categories: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func itemArgs(item *models.Item) ([]any, error) {
	tags, meta, err := encodeTagsMeta(item)
	if err != nil {
		return nil, err
	}
	return []any{
		item.Id, item.Title, item.Content, item.Category, tags,
		item.IsTemplate, item.Archived, meta,
		item.CreatedAt.UTC().Format(timeLayout),
		item.UpdatedAt.UTC().Format(timeLayout),
	}, nil
}

func encodeTagsMeta(item *models.Item) (tags string, meta string, err error) {
	tb, err := json.Marshal(orEmptySlice(item.Tags))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode tags: %w", err)
	}
	mb, err := json.Marshal(orEmptyMap(item.Metadata))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(tb), string(mb), nil
}

func scanItem(scan func(dest ...any) error) (*models.Item, error) {
	var (
		item             models.Item
		tags, meta       string
		created, updated string
	)
	err := scan(&item.Id, &item.Title, &item.Content, &item.Category, &tags,
		&item.IsTemplate, &item.Archived, &meta, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return nil, fmt.Errorf("malformed tags column: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &item.Metadata); err != nil {
		return nil, fmt.Errorf("malformed metadata column: %w", err)
	}
	if item.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("malformed created_at column: %w", err)
	}
	if item.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("malformed updated_at column: %w", err)
	}
	return &item, nil
}

func requireOneRow(res sql.Result, id string) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("item %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
