package sqlite3

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type (
	TxFunc    = func(tx *sqlx.Tx) error
	TxManager = func(ctx context.Context, fn TxFunc) error
)

// WithTx returns a manager that runs fn inside a transaction on db. The
// transaction is rolled back when fn fails or panics and committed otherwise.
func WithTx(db *sqlx.DB, opts *sql.TxOptions) TxManager {
	return func(ctx context.Context, fn TxFunc) (err error) {
		tx, err := db.BeginTxx(ctx, opts)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("transaction: %v, rollback: %w", err, rbErr)
			}
			return fmt.Errorf("transaction: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
}
