package importer

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akorchak/notekeeper/internal/codec"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/repositories/items"
	"github.com/akorchak/notekeeper/internal/repositories/sessions"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE items (
  id          TEXT PRIMARY KEY,
  title       TEXT NOT NULL,
  content     TEXT NOT NULL DEFAULT '',
  category    TEXT NOT NULL DEFAULT '',
  tags        TEXT NOT NULL DEFAULT '[]',
  is_template INTEGER NOT NULL DEFAULT 0,
  archived    INTEGER NOT NULL DEFAULT 0,
  metadata    TEXT NOT NULL DEFAULT '{}',
  created_at  TEXT NOT NULL,
  updated_at  TEXT NOT NULL
);
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

func setup(t *testing.T) (*Service, *items.SQLiteRepository) {
	t.Helper()
	db := setupDB(t)
	itemRepo := items.NewSQLiteRepository(db)
	sessionRepo := sessions.NewSQLiteRepository(db)
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewService(sessionRepo, itemRepo, 2, log), itemRepo
}

func awaitTerminal(t *testing.T, svc *Service, id string) *models.ImportSession {
	t.Helper()
	var session *models.ImportSession
	require.Eventually(t, func() bool {
		s, err := svc.Status(context.Background(), id)
		if err != nil {
			return false
		}
		session = s
		return s.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return session
}

func TestImport_MalformedRowIsCountedNotFatal(t *testing.T) {
	svc, itemRepo := setup(t)
	ctx := context.Background()

	// three data rows; the second has the wrong field count
	file := "title,content,category,tags\n" +
		"Alpha,body a,notes,x;y\n" +
		"broken-row-with-no-commas\n" +
		"Gamma,body c,notes,\n"

	id, err := svc.Start(ctx, codec.FormatCSV, "notes.csv", []byte(file), nil)
	require.NoError(t, err)

	session := awaitTerminal(t, svc, id)
	assert.Equal(t, models.ImportCompleted, session.Status)
	assert.Equal(t, 3, session.TotalItems)
	assert.Equal(t, 3, session.ProcessedItems)
	assert.Equal(t, 2, session.SuccessfulItems)
	assert.Equal(t, 1, session.FailedItems)

	var errorFindings []models.Finding
	for _, f := range session.Findings {
		if f.Severity == models.SeverityError {
			errorFindings = append(errorFindings, f)
		}
	}
	require.Len(t, errorFindings, 1)
	assert.Equal(t, 3, errorFindings[0].Row) // file row 3 holds the malformed data row

	n, err := itemRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImport_FieldMapping(t *testing.T) {
	svc, itemRepo := setup(t)
	ctx := context.Background()

	file := "title,content,category,tags,mood\n" +
		"Day one,slow morning,journal,,optimistic\n"

	id, err := svc.Start(ctx, codec.FormatCSV, "journal.csv", []byte(file),
		map[string]string{"mood": "mood"})
	require.NoError(t, err)

	session := awaitTerminal(t, svc, id)
	assert.Equal(t, models.ImportCompleted, session.Status)
	require.Equal(t, 1, session.SuccessfulItems)

	list, err := itemRepo.List(ctx, items.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Day one", list[0].Title)
	assert.Equal(t, "journal", list[0].Category)
	assert.Equal(t, map[string]string{"mood": "optimistic"}, list[0].Metadata)
}

func TestImport_FieldMappingFromTags(t *testing.T) {
	svc, itemRepo := setup(t)
	ctx := context.Background()

	file := "title,content,category,tags\n" +
		"Day one,slow morning,journal,calm;sunny\n"

	id, err := svc.Start(ctx, codec.FormatCSV, "journal.csv", []byte(file),
		map[string]string{"tags": "labels"})
	require.NoError(t, err)

	session := awaitTerminal(t, svc, id)
	assert.Equal(t, models.ImportCompleted, session.Status)

	list, err := itemRepo.List(ctx, items.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"calm", "sunny"}, list[0].Tags)
	assert.Equal(t, map[string]string{"labels": "calm,sunny"}, list[0].Metadata)
}

func TestImport_UnsupportedFormatCompletesEmpty(t *testing.T) {
	svc, itemRepo := setup(t)
	ctx := context.Background()

	id, err := svc.Start(ctx, codec.FormatPDF, "notes.pdf", []byte("%PDF-1.4"), nil)
	require.NoError(t, err)

	session := awaitTerminal(t, svc, id)
	assert.Equal(t, models.ImportCompleted, session.Status)
	assert.Equal(t, 0, session.TotalItems)
	require.Len(t, session.Findings, 1)
	assert.Equal(t, models.SeverityWarning, session.Findings[0].Severity)

	n, err := itemRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestImport_ProgressEvents(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	file := "title,content\nOne,a\nTwo,b\n"

	id, err := svc.Start(ctx, codec.FormatCSV, "notes.csv", []byte(file), nil)
	require.NoError(t, err)

	events, unsubscribe := svc.Subscribe(id)
	defer unsubscribe()

	var last Progress
	deadline := time.After(5 * time.Second)
drain:
	for {
		select {
		case p, ok := <-events:
			if !ok {
				break drain
			}
			last = p
		case <-deadline:
			break drain
		}
	}
	if last.Status == models.ImportCompleted {
		assert.Equal(t, 2, last.Processed)
	}

	session := awaitTerminal(t, svc, id)
	assert.Equal(t, models.ImportCompleted, session.Status)
	assert.Equal(t, 2, session.SuccessfulItems)
}
