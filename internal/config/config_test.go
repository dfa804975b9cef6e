package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	os.Args = append([]string{"notekeeper"}, args...)
	t.Cleanup(func() { os.Args = orig })
}

func TestLoadConfig_Defaults(t *testing.T) {
	withArgs(t)

	cfg := LoadConfig()

	assert.Equal(t, "file:notekeeper.db", cfg.DatabaseDSN)
	assert.Equal(t, "backups", cfg.BackupDir)
	assert.Equal(t, 10, cfg.SyncBatchSize)
	assert.Equal(t, 3, cfg.SyncMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.SyncPollInterval)
	assert.Equal(t, 4, cfg.ImportWorkers)
	assert.Equal(t, 4096, cfg.CompressMinBytes)
	assert.Zero(t, cfg.BackupRetention)
}

func TestLoadConfig_JsonOverlay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "notekeeper.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"database_dsn": "file:json.db",
		"sync_batch_size": 25,
		"sync_poll_interval": "5s",
		"backup_retention": "720h"
	}`), 0o660))
	withArgs(t, "-c", file)

	cfg := LoadConfig()

	assert.Equal(t, "file:json.db", cfg.DatabaseDSN)
	assert.Equal(t, 25, cfg.SyncBatchSize)
	assert.Equal(t, 5*time.Second, cfg.SyncPollInterval)
	assert.Equal(t, 720*time.Hour, cfg.BackupRetention)

	// Unset keys keep their defaults.
	assert.Equal(t, "backups", cfg.BackupDir)
	assert.Equal(t, 3, cfg.SyncMaxRetries)
}

func TestLoadConfig_FlagsWinOverJson(t *testing.T) {
	file := filepath.Join(t.TempDir(), "notekeeper.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"database_dsn": "file:json.db",
		"import_workers": 2
	}`), 0o660))
	withArgs(t, "-c", file, "-d", "file:flag.db", "-w", "8")

	cfg := LoadConfig()

	assert.Equal(t, "file:flag.db", cfg.DatabaseDSN)
	assert.Equal(t, 8, cfg.ImportWorkers)
}
