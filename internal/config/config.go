// Package config loads runtime settings for the notekeeper data core.
package config

import "time"

// Config holds runtime settings for the data core.
//
// Units: durations are time.Duration values; sizes are bytes.
type Config struct {
	// DatabaseDSN is the SQLite connection string of the live store.
	DatabaseDSN string

	// BackupDir is where backup artifacts are written.
	BackupDir string

	// SyncBatchSize caps how many pending sync operations one worker pass
	// may claim.
	SyncBatchSize int

	// SyncMaxRetries is the default retry budget for enqueued operations.
	SyncMaxRetries int

	// SyncPollInterval is the worker's base pause between passes; the
	// worker backs off from it when the queue stays empty.
	SyncPollInterval time.Duration

	// ImportWorkers bounds the concurrency of the import record pool.
	ImportWorkers int

	// ArchiveAfter is the age past which untouched items are archived.
	ArchiveAfter time.Duration

	// CompressMinBytes is the content size above which the optimizer
	// attempts whitespace compression.
	CompressMinBytes int

	// BackupRetention is how long completed backups live before the expiry
	// sweep; zero keeps them forever.
	BackupRetention time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabaseDSN = "file:notekeeper.db"
	c.BackupDir = "backups"
	c.SyncBatchSize = 10
	c.SyncMaxRetries = 3
	c.SyncPollInterval = 2 * time.Second
	c.ImportWorkers = 4
	c.ArchiveAfter = 2 * 365 * 24 * time.Hour
	c.CompressMinBytes = 4096
	c.BackupRetention = 0
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
