package backups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

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

const backupColumns = `id, kind, serialization, status, size_bytes, item_count, template_count, categories,
	compression_ratio, encrypted, artifact_path, error, metadata, created_at, completed_at, expires_at`

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.BackupRecord) error {
	cats, meta, err := encodeJSONCols(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO backups (` + backupColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		rec.Id, string(rec.Kind), rec.Serialization, string(rec.Status),
		rec.SizeBytes, rec.ItemCount, rec.TemplateCount, cats,
		rec.CompressionRatio, rec.Encrypted, rec.ArtifactPath, rec.Error, meta,
		rec.CreatedAt.UTC().Format(timeLayout),
		formatNullable(rec.CompletedAt), formatNullable(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to insert backup record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Complete(ctx context.Context, rec *models.BackupRecord) error {
	cats, _, err := encodeJSONCols(rec)
	if err != nil {
		return err
	}
	// Size, counts and status transition land in one statement so a crash
	// can never leave a completed record with missing size data.
	query := `UPDATE backups SET
			status=?, size_bytes=?, item_count=?, template_count=?, categories=?,
			compression_ratio=?, encrypted=?, artifact_path=?, completed_at=?
		WHERE id=? AND status IN (?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		string(models.BackupStatusCompleted),
		rec.SizeBytes, rec.ItemCount, rec.TemplateCount, cats,
		rec.CompressionRatio, rec.Encrypted, rec.ArtifactPath,
		formatNullable(rec.CompletedAt),
		rec.Id, string(models.BackupStatusPending), string(models.BackupStatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to complete backup record: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("backup %s is not in progress: %w", rec.Id, common.ErrPreconditionFailed)
	}
	return nil
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE backups SET status=?, error=? WHERE id=?`,
		string(models.BackupStatusFailed), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark backup failed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.BackupRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id=?`, id)
	rec, err := scanBackup(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup record: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.BackupRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select backup records: %w", err)
	}
	defer rows.Close()

	var result []models.BackupRecord
	for rows.Next() {
		rec, err := scanBackup(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM backups WHERE id=?`, id); err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ExpireOlder(ctx context.Context, now time.Time) ([]models.BackupRecord, error) {
	cutoff := now.UTC().Format(timeLayout)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE status=? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(models.BackupStatusCompleted), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired backups: %w", err)
	}
	defer rows.Close()

	var expired []models.BackupRecord
	for rows.Next() {
		rec, err := scanBackup(rows.Scan)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE backups SET status=? WHERE status=? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(models.BackupStatusExpired), string(models.BackupStatusCompleted), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire backups: %w", err)
	}
	return expired, nil
}

func encodeJSONCols(rec *models.BackupRecord) (cats string, meta string, err error) {
	categories := rec.Categories
	if categories == nil {
		categories = []string{}
	}
	cb, err := json.Marshal(categories)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode categories: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	mb, err := json.Marshal(metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(cb), string(mb), nil
}

func scanBackup(scan func(dest ...any) error) (*models.BackupRecord, error) {
	var (
		rec                models.BackupRecord
		kind, status       string
		serialization      string
		cats, meta         string
		created            string
		completed, expires sql.NullString
	)
	err := scan(&rec.Id, &kind, &serialization, &status, &rec.SizeBytes, &rec.ItemCount, &rec.TemplateCount,
		&cats, &rec.CompressionRatio, &rec.Encrypted, &rec.ArtifactPath, &rec.Error, &meta,
		&created, &completed, &expires)
	if err != nil {
		return nil, err
	}
	rec.Kind = models.BackupKind(kind)
	rec.Serialization = serialization
	rec.Status = models.BackupStatus(status)
	if err := json.Unmarshal([]byte(cats), &rec.Categories); err != nil {
		return nil, fmt.Errorf("malformed categories column: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("malformed metadata column: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("malformed created_at column: %w", err)
	}
	if rec.CompletedAt, err = parseNullable(completed); err != nil {
		return nil, fmt.Errorf("malformed completed_at column: %w", err)
	}
	if rec.ExpiresAt, err = parseNullable(expires); err != nil {
		return nil, fmt.Errorf("malformed expires_at column: %w", err)
	}
	return &rec, nil
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
