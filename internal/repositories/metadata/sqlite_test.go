package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func TestGet_AbsentKeyReturnsNil(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	v, err := r.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSetGetDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("v1")))

	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	// upsert on the same key
	require.NoError(t, r.Set(ctx, "k", []byte("v2")))
	v, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, r.Delete(ctx, "k"))
	v, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}
