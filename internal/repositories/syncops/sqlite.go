package syncops

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/dbx"
	"github.com/akorchak/notekeeper/internal/models"
)

// timeLayout zero-pads the fraction so UTC timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const opColumns = `id, kind, entity_kind, entity_id, payload, priority, status,
	retry_count, max_retries, last_error, device_id, created_at, processed_at, expires_at`

func (r *SQLiteRepository) Insert(ctx context.Context, op *models.SyncOperation) error {
	query := `INSERT INTO sync_operations (` + opColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		op.Id, string(op.Kind), op.EntityKind, op.EntityId, op.Payload,
		op.Priority, string(op.Status), op.RetryCount, op.MaxRetries,
		op.LastError, op.DeviceId,
		op.CreatedAt.UTC().Format(timeLayout),
		formatNullable(op.ProcessedAt), formatNullable(op.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to insert sync operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.SyncOperation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+opColumns+` FROM sync_operations WHERE id=?`, id)
	op, err := scanOp(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync operation: %w", err)
	}
	return op, nil
}

func (r *SQLiteRepository) SelectBatch(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	// The NOT EXISTS guard withholds an operation while an earlier one for
	// the same entity is unfinished, so same-entity operations are always
	// applied in created_at order even when priorities differ.
	query := `SELECT ` + opColumns + ` FROM sync_operations o
		WHERE o.status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM sync_operations p
			WHERE p.entity_kind = o.entity_kind
			  AND p.entity_id = o.entity_id
			  AND p.status IN ('pending', 'processing')
			  AND p.created_at < o.created_at
		  )
		ORDER BY o.priority DESC, o.created_at ASC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync batch: %w", err)
	}
	defer rows.Close()

	var result []models.SyncOperation
	for rows.Next() {
		op, err := scanOp(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *op)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations SET status='processing' WHERE id=? AND status='pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim sync operation: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra == 1, nil
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string, processedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations SET status='completed', processed_at=? WHERE id=? AND status='processing'`,
		processedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to complete sync operation: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) Release(ctx context.Context, id string, retryCount int, lastError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations SET status='pending', retry_count=?, last_error=? WHERE id=? AND status='processing'`,
		retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to release sync operation: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations SET status='failed', last_error=? WHERE id=?`, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark sync operation failed: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) MarkCancelled(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations SET status='cancelled' WHERE id=? AND status IN ('pending', 'processing')`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel sync operation: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) DropExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_operations
		 WHERE status='pending' AND expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to drop expired sync operations: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.SyncOpStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync operations: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncOpStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		result[models.SyncOpStatus(status)] = n
	}
	return result, rows.Err()
}

func scanOp(scan func(dest ...any) error) (*models.SyncOperation, error) {
	var (
		op                 models.SyncOperation
		kind, status       string
		created            string
		processed, expires sql.NullString
	)
	err := scan(&op.Id, &kind, &op.EntityKind, &op.EntityId, &op.Payload,
		&op.Priority, &status, &op.RetryCount, &op.MaxRetries,
		&op.LastError, &op.DeviceId, &created, &processed, &expires)
	if err != nil {
		return nil, err
	}
	op.Kind = models.SyncOpKind(kind)
	op.Status = models.SyncOpStatus(status)
	if op.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("malformed created_at column: %w", err)
	}
	if op.ProcessedAt, err = parseNullable(processed); err != nil {
		return nil, fmt.Errorf("malformed processed_at column: %w", err)
	}
	if op.ExpiresAt, err = parseNullable(expires); err != nil {
		return nil, fmt.Errorf("malformed expires_at column: %w", err)
	}
	return &op, nil
}

func requireOneRow(res sql.Result, id string) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("sync operation %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func formatNullable(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseNullable(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
