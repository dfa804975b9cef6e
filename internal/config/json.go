package config

import (
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/akorchak/notekeeper/internal/flagx"
	"github.com/akorchak/notekeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "720h"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config.
type JsonConfig struct {
	DatabaseDSN      string         `json:"database_dsn"`
	BackupDir        string         `json:"backup_dir"`
	SyncBatchSize    *int           `json:"sync_batch_size"`
	SyncMaxRetries   *int           `json:"sync_max_retries"`
	SyncPollInterval timex.Duration `json:"sync_poll_interval"`
	ImportWorkers    *int           `json:"import_workers"`
	ArchiveAfter     timex.Duration `json:"archive_after"`
	CompressMinBytes *int           `json:"compress_min_bytes"`
	BackupRetention  timex.Duration `json:"backup_retention"`
}

// parseJson overlays Config with values loaded from a JSON file named by the
// -c/-config flag. Absent file means nothing to overlay; unset fields keep
// their previous values. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.BackupDir != "" {
		cfg.BackupDir = jc.BackupDir
	}
	if jc.SyncBatchSize != nil {
		cfg.SyncBatchSize = *jc.SyncBatchSize
	}
	if jc.SyncMaxRetries != nil {
		cfg.SyncMaxRetries = *jc.SyncMaxRetries
	}
	if jc.SyncPollInterval.Duration != 0 {
		cfg.SyncPollInterval = time.Duration(jc.SyncPollInterval.Duration)
	}
	if jc.ImportWorkers != nil {
		cfg.ImportWorkers = *jc.ImportWorkers
	}
	if jc.ArchiveAfter.Duration != 0 {
		cfg.ArchiveAfter = time.Duration(jc.ArchiveAfter.Duration)
	}
	if jc.CompressMinBytes != nil {
		cfg.CompressMinBytes = *jc.CompressMinBytes
	}
	if jc.BackupRetention.Duration != 0 {
		cfg.BackupRetention = time.Duration(jc.BackupRetention.Duration)
	}
}
