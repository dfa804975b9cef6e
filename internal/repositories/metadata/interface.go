// Package metadata is a small key/value store for engine bookkeeping: the
// last-full-backup pointer, the last backup time, and the logical schema
// version of stored entities.
package metadata

import "context"

// Repository is the key/value contract.
type Repository interface {
	// Get returns nil (no error) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
