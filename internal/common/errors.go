// Package common defines shared constants, helpers and sentinel errors used
// across notekeeper components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrEncryptionKeyMissing is returned by operations that need the
	// keystore while no passphrase has been set.
	ErrEncryptionKeyMissing = errors.New("encryption key missing")

	// Precondition errors.
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBackupNotCompleted = errors.New("backup is not completed")

	// Codec / pipeline errors.
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrValidation        = errors.New("validation error")
	ErrNoDataToExport    = errors.New("no data to export")

	// ErrPartialFailure marks a batch in which some items failed while
	// others succeeded; details travel alongside the error.
	ErrPartialFailure = errors.New("partial failure")
)
