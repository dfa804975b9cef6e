package datacore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/config"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
)

func testCore(t *testing.T) *DataCore {
	t.Helper()

	ctx := context.Background()

	db, err := InitDatabase(ctx, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BackupDir = t.TempDir()

	return New(db, cfg, logging.NewDiscard())
}

func TestInitDatabase_SchemaUsable(t *testing.T) {
	core := testCore(t)

	n, err := core.Items().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSaveItem_JournalsCreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	core := testCore(t)

	item := &models.Item{Title: "first", Content: "body"}
	require.NoError(t, core.SaveItem(ctx, item))
	require.NotEmpty(t, item.Id)

	stored, err := core.Items().GetByID(ctx, item.Id)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Title)

	item.Content = "revised body"
	require.NoError(t, core.SaveItem(ctx, item))

	var kinds []string
	rows, err := core.db.QueryContext(ctx,
		`SELECT kind FROM sync_operations WHERE entity_id=? ORDER BY created_at`, item.Id)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		kinds = append(kinds, k)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"create", "update"}, kinds)

	status, err := core.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status[models.SyncOpPending])
}

func TestDeleteItem_JournalsDelete(t *testing.T) {
	ctx := context.Background()
	core := testCore(t)

	item := &models.Item{Title: "doomed"}
	require.NoError(t, core.SaveItem(ctx, item))
	require.NoError(t, core.DeleteItem(ctx, item.Id))

	_, err := core.Items().GetByID(ctx, item.Id)
	assert.ErrorIs(t, err, common.ErrNotFound)

	var kind string
	row := core.db.QueryRowContext(ctx,
		`SELECT kind FROM sync_operations WHERE entity_id=? ORDER BY created_at DESC LIMIT 1`, item.Id)
	require.NoError(t, row.Scan(&kind))
	assert.Equal(t, "delete", kind)
}
