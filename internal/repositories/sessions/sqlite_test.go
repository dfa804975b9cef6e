package sessions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE import_sessions (
  id               TEXT PRIMARY KEY,
  source_format    TEXT NOT NULL,
  filename         TEXT NOT NULL DEFAULT '',
  status           TEXT NOT NULL,
  total_items      INTEGER NOT NULL DEFAULT 0,
  processed_items  INTEGER NOT NULL DEFAULT 0,
  successful_items INTEGER NOT NULL DEFAULT 0,
  failed_items     INTEGER NOT NULL DEFAULT 0,
  total_bytes      INTEGER NOT NULL DEFAULT 0,
  field_mapping    TEXT NOT NULL DEFAULT '{}',
  findings         TEXT NOT NULL DEFAULT '[]',
  error            TEXT NOT NULL DEFAULT '',
  created_at       TEXT NOT NULL,
  completed_at     TEXT
);
`)
	require.NoError(t, err)

	return db
}

func newSession(id string) *models.ImportSession {
	return &models.ImportSession{
		Id:           id,
		SourceFormat: "csv",
		Filename:     "notes.csv",
		Status:       models.ImportPending,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestInsertAndGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s := newSession("s1")
	s.FieldMapping = map[string]string{"name": "title"}
	require.NoError(t, r.Insert(ctx, s))

	got, err := r.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "csv", got.SourceFormat)
	assert.Equal(t, models.ImportPending, got.Status)
	assert.Equal(t, map[string]string{"name": "title"}, got.FieldMapping)
	assert.Nil(t, got.CompletedAt)
}

func TestIncrementProgress(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, newSession("s1")))
	require.NoError(t, r.SetTotals(ctx, "s1", 2, 100))

	require.NoError(t, r.IncrementProgress(ctx, "s1", true))
	require.NoError(t, r.IncrementProgress(ctx, "s1", false))

	got, err := r.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedItems)
	assert.Equal(t, 1, got.SuccessfulItems)
	assert.Equal(t, 1, got.FailedItems)

	// a third increment would push processed past total
	err = r.IncrementProgress(ctx, "s1", true)
	assert.ErrorIs(t, err, common.ErrPreconditionFailed)

	got, err = r.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedItems)
}

func TestFindingsRoundTrip(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, newSession("s1")))

	findings := []models.Finding{
		{Row: 2, Field: "title", Message: "missing", Severity: models.SeverityError},
	}
	require.NoError(t, r.SetFindings(ctx, "s1", findings))

	got, err := r.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, findings, got.Findings)
}

func TestTerminalStates(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, newSession("ok")))
	require.NoError(t, r.Insert(ctx, newSession("bad")))

	now := time.Now().UTC()
	require.NoError(t, r.MarkCompleted(ctx, "ok", now))
	require.NoError(t, r.MarkFailed(ctx, "bad", "file unreadable", now))

	got, err := r.GetByID(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.ImportCompleted, got.Status)
	assert.True(t, got.Terminal())
	require.NotNil(t, got.CompletedAt)

	got, err = r.GetByID(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, models.ImportFailed, got.Status)
	assert.Equal(t, "file unreadable", got.Error)
}
