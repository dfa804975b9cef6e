package common

// SchemaVersion is the current logical schema version of stored entities.
// Structured exports embed it so imports can tell what they are reading, and
// the migration engine records it in the metadata table after a successful run.
const SchemaVersion = "2.0"

// MetadataKeySchemaVersion is the metadata table key holding the store's
// current logical schema version.
const MetadataKeySchemaVersion = "schema_version"

// MetadataKeyLastFullBackup is the metadata table key holding the id of the
// most recent completed full backup, used to compute differential sets.
const MetadataKeyLastFullBackup = "last_full_backup"

// MetadataKeyLastBackupAt is the metadata table key holding the creation time
// (RFC 3339) of the most recent completed backup of any kind, used to compute
// incremental sets.
const MetadataKeyLastBackupAt = "last_backup_at"
