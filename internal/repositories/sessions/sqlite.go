package sessions

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

const sessionColumns = `id, source_format, filename, status, total_items, processed_items,
	successful_items, failed_items, total_bytes, field_mapping, findings, error, created_at, completed_at`

func (r *SQLiteRepository) Insert(ctx context.Context, s *models.ImportSession) error {
	mapping, err := json.Marshal(orEmptyMap(s.FieldMapping))
	if err != nil {
		return fmt.Errorf("failed to encode field mapping: %w", err)
	}
	findings, err := json.Marshal(orEmptyFindings(s.Findings))
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}
	query := `INSERT INTO import_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		s.Id, s.SourceFormat, s.Filename, string(s.Status),
		s.TotalItems, s.ProcessedItems, s.SuccessfulItems, s.FailedItems,
		s.TotalBytes, string(mapping), string(findings), s.Error,
		s.CreatedAt.UTC().Format(timeLayout), formatNullable(s.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert import session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.ImportSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM import_sessions WHERE id=?`, id)
	s, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import session: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status models.ImportStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE import_sessions SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set session status: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) SetTotals(ctx context.Context, id string, totalItems int, totalBytes int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE import_sessions SET total_items=?, total_bytes=? WHERE id=?`,
		totalItems, totalBytes, id)
	if err != nil {
		return fmt.Errorf("failed to set session totals: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) IncrementProgress(ctx context.Context, id string, succeeded bool) error {
	col := "failed_items"
	if succeeded {
		col = "successful_items"
	}
	// processed_items only ever grows, and never past total_items.
	query := `UPDATE import_sessions
		SET processed_items = processed_items + 1, ` + col + ` = ` + col + ` + 1
		WHERE id=? AND processed_items < total_items`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment session progress: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("session %s: progress past total rejected: %w", id, common.ErrPreconditionFailed)
	}
	return nil
}

func (r *SQLiteRepository) SetFindings(ctx context.Context, id string, findings []models.Finding) error {
	b, err := json.Marshal(orEmptyFindings(findings))
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE import_sessions SET findings=? WHERE id=?`, string(b), id)
	if err != nil {
		return fmt.Errorf("failed to set session findings: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE import_sessions SET status=?, completed_at=? WHERE id=?`,
		string(models.ImportCompleted), at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to complete import session: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE import_sessions SET status=?, error=?, completed_at=? WHERE id=?`,
		string(models.ImportFailed), errMsg, at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to mark import session failed: %w", err)
	}
	return requireOneRow(res, id)
}

func scanSession(scan func(dest ...any) error) (*models.ImportSession, error) {
	var (
		s                 models.ImportSession
		status            string
		mapping, findings string
		created           string
		completed         sql.NullString
	)
	err := scan(&s.Id, &s.SourceFormat, &s.Filename, &status,
		&s.TotalItems, &s.ProcessedItems, &s.SuccessfulItems, &s.FailedItems,
		&s.TotalBytes, &mapping, &findings, &s.Error, &created, &completed)
	if err != nil {
		return nil, err
	}
	s.Status = models.ImportStatus(status)
	if err := json.Unmarshal([]byte(mapping), &s.FieldMapping); err != nil {
		return nil, fmt.Errorf("malformed field_mapping column: %w", err)
	}
	if err := json.Unmarshal([]byte(findings), &s.Findings); err != nil {
		return nil, fmt.Errorf("malformed findings column: %w", err)
	}
	if s.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("malformed created_at column: %w", err)
	}
	if completed.Valid && completed.String != "" {
		t, err := time.Parse(timeLayout, completed.String)
		if err != nil {
			return nil, fmt.Errorf("malformed completed_at column: %w", err)
		}
		s.CompletedAt = &t
	}
	return &s, nil
}

func requireOneRow(res sql.Result, id string) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("import session %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func formatNullable(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyFindings(f []models.Finding) []models.Finding {
	if f == nil {
		return []models.Finding{}
	}
	return f
}
