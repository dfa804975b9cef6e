package backup

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/keystore"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/repositories/backups"
	"github.com/akorchak/notekeeper/internal/repositories/items"
	"github.com/akorchak/notekeeper/internal/repositories/metadata"

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
CREATE TABLE backups (
  id                TEXT PRIMARY KEY,
  kind              TEXT NOT NULL,
  serialization     TEXT NOT NULL DEFAULT 'json',
  status            TEXT NOT NULL,
  size_bytes        INTEGER NOT NULL DEFAULT 0,
  item_count        INTEGER NOT NULL DEFAULT 0,
  template_count    INTEGER NOT NULL DEFAULT 0,
  categories        TEXT NOT NULL DEFAULT '[]',
  compression_ratio REAL NOT NULL DEFAULT 1.0,
  encrypted         INTEGER NOT NULL DEFAULT 0,
  artifact_path     TEXT NOT NULL DEFAULT '',
  error             TEXT NOT NULL DEFAULT '',
  metadata          TEXT NOT NULL DEFAULT '{}',
  created_at        TEXT NOT NULL,
  completed_at      TEXT,
  expires_at        TEXT
);
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fixture struct {
	svc      *Service
	items    *items.SQLiteRepository
	backups  *backups.SQLiteRepository
	keys     *keystore.KeyStore
	metaRepo *metadata.SQLiteRepository
}

func setup(t *testing.T, retention time.Duration) *fixture {
	t.Helper()
	db := setupDB(t)
	itemRepo := items.NewSQLiteRepository(db)
	backupRepo := backups.NewSQLiteRepository(db)
	metaRepo := metadata.NewSQLiteRepository(db)
	keys := keystore.New()
	svc := NewService(itemRepo, backupRepo, metaRepo, keys,
		t.TempDir(), retention, testLogger())
	return &fixture{svc: svc, items: itemRepo, backups: backupRepo, keys: keys, metaRepo: metaRepo}
}

func seedItem(t *testing.T, repo *items.SQLiteRepository, id string, at time.Time) *models.Item {
	t.Helper()
	item := &models.Item{
		Id:        id,
		Title:     "title " + id,
		Content:   "content " + id,
		Category:  "notes",
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, repo.Insert(context.Background(), item))
	return item
}

func TestCreateAndRestore_Replace(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedItem(t, f.items, "a", now)
	seedItem(t, f.items, "b", now)

	rec, err := f.svc.Create(ctx, models.BackupKindFull, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.BackupStatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.ItemCount)
	assert.Greater(t, rec.SizeBytes, int64(0))
	assert.FileExists(t, rec.ArtifactPath)

	// mutate the live store, then restore
	require.NoError(t, f.items.Delete(ctx, "a"))
	require.NoError(t, f.items.UpdateContent(ctx, "b", "mangled"))

	require.NoError(t, f.svc.Restore(ctx, rec.Id, RestoreOptions{Strategy: models.MergeReplace}))

	n, err := f.items.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := f.items.GetByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "content b", b.Content)
}

func TestRestore_SkipExisting(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedItem(t, f.items, "a", now)
	rec, err := f.svc.Create(ctx, models.BackupKindFull, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, f.items.UpdateContent(ctx, "a", "local edit"))
	require.NoError(t, f.svc.Restore(ctx, rec.Id, RestoreOptions{Strategy: models.MergeSkipExisting}))

	a, err := f.items.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "local edit", a.Content)
}

func TestRestore_RequiresExplicitStrategy(t *testing.T) {
	f := setup(t, 0)

	err := f.svc.Restore(context.Background(), "whatever", RestoreOptions{})
	assert.ErrorIs(t, err, common.ErrPreconditionFailed)
}

func TestRestore_NotCompleted(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	rec := &models.BackupRecord{
		Id:        "pending-backup",
		Kind:      models.BackupKindFull,
		Status:    models.BackupStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.backups.Insert(ctx, rec))

	err := f.svc.Restore(ctx, rec.Id, RestoreOptions{Strategy: models.MergeReplace})
	assert.ErrorIs(t, err, common.ErrBackupNotCompleted)
}

func TestRestore_UnknownBackup(t *testing.T) {
	f := setup(t, 0)

	err := f.svc.Restore(context.Background(), "missing", RestoreOptions{Strategy: models.MergeReplace})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestIncrementalCapturesOnlyChanges(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedItem(t, f.items, "old", now.Add(-time.Hour))

	_, err := f.svc.Create(ctx, models.BackupKindFull, CreateOptions{})
	require.NoError(t, err)

	seedItem(t, f.items, "new", now.Add(time.Hour))

	inc, err := f.svc.Create(ctx, models.BackupKindIncremental, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, inc.ItemCount)
}

func TestEncryptedBackup(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedItem(t, f.items, "a", now)

	// no key loaded yet
	_, err := f.svc.Create(ctx, models.BackupKindFull, CreateOptions{Encrypt: true})
	assert.ErrorIs(t, err, common.ErrEncryptionKeyMissing)

	f.keys.Init([]byte("correct horse"))
	rec, err := f.svc.Create(ctx, models.BackupKindFull, CreateOptions{Encrypt: true})
	require.NoError(t, err)
	assert.True(t, rec.Encrypted)

	require.NoError(t, f.items.Delete(ctx, "a"))
	require.NoError(t, f.svc.Restore(ctx, rec.Id, RestoreOptions{Strategy: models.MergeReplace, ValidateData: true}))

	n, err := f.items.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelete_Idempotent(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	seedItem(t, f.items, "a", time.Now().UTC())

	rec, err := f.svc.Create(ctx, models.BackupKindFull, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, rec.Id))
	_, statErr := os.Stat(rec.ArtifactPath)
	assert.True(t, os.IsNotExist(statErr))

	// deleting again is a no-op
	require.NoError(t, f.svc.Delete(ctx, rec.Id))
}

func TestSweepExpired(t *testing.T) {
	f := setup(t, time.Nanosecond)
	ctx := context.Background()
	seedItem(t, f.items, "a", time.Now().UTC())

	rec, err := f.svc.Create(ctx, models.BackupKindFull, CreateOptions{})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, statErr := os.Stat(rec.ArtifactPath)
	assert.True(t, os.IsNotExist(statErr))
}
