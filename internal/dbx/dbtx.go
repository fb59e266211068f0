// Package dbx holds the transaction plumbing shared by the SQLite client
// store and the Postgres server repositories.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the query surface the storage code needs, satisfied by both
// *sql.DB and *sql.Tx. Repository methods take it so the same code runs
// standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction: commit on nil error, rollback on
// error or panic (the panic is rethrown). Multi-table mutations like the
// temporary-id rewrite go through here so a crash mid-way never leaves the
// record and its queue entries pointing at different ids.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
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
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
