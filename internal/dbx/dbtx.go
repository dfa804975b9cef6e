// Package dbx holds the small database plumbing the repositories share: a
// DBTX interface satisfied by both *sql.DB and *sql.Tx, so a repository can
// run standalone or join an enclosing transaction, and WithTx for the few
// compound writes that need one.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the query surface repositories are written against.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction: commit when fn returns nil, rollback
// when it returns an error or panics. Panics are rethrown after rollback.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}
