package models

import "time"

// BackupKind selects how much of the store a backup captures.
type BackupKind string

const (
	// BackupKindFull captures every item and template.
	BackupKindFull BackupKind = "full"
	// BackupKindIncremental captures items changed since the previous
	// backup of any kind.
	BackupKindIncremental BackupKind = "incremental"
	// BackupKindDifferential captures items changed since the previous
	// full backup.
	BackupKindDifferential BackupKind = "differential"
)

// BackupStatus is the lifecycle state of a backup record.
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "pending"
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
	BackupStatusExpired    BackupStatus = "expired"
)

// MergeStrategy is the conflict policy applied when restoring a backup
// over existing data.
type MergeStrategy string

const (
	// MergeReplace overwrites items whose ids match the snapshot.
	MergeReplace MergeStrategy = "replace"
	// MergeUnion keeps both sides; on id conflict the newer UpdatedAt wins.
	MergeUnion MergeStrategy = "merge"
	// MergeSkipExisting inserts only items absent from the live store.
	MergeSkipExisting MergeStrategy = "skip_existing"
)

// BackupRecord describes one backup snapshot. It is mutated only by the
// backup service while the snapshot is being written and is immutable once
// Status reaches BackupStatusCompleted.
type BackupRecord struct {
	Id   string
	Kind BackupKind

	// Serialization names the snapshot payload encoding (currently "json").
	Serialization string

	// Status is set exactly once to completed, only after SizeBytes and
	// the item/template counts are finalized.
	Status BackupStatus

	SizeBytes     int64
	ItemCount     int
	TemplateCount int

	// Categories lists the categories included in the snapshot.
	Categories []string

	// CompressionRatio is compressed/uncompressed size, 1.0 when the
	// artifact is stored uncompressed.
	CompressionRatio float64

	// Encrypted reports whether the artifact was sealed with the keystore.
	Encrypted bool

	// ArtifactPath locates the snapshot file in the backup directory.
	ArtifactPath string

	Error string

	Metadata map[string]string

	CreatedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   *time.Time
}
