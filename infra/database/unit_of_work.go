package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UnitOfWork runs each unit in a transaction. On Postgres the unit also takes a transaction-scoped
// advisory lock on the product so concurrent units on the same product queue up; sqlite is already
// serialised by its single connection.
type UnitOfWork struct {
	db *sqlx.DB
}

func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) RunAtomically(ctx context.Context, productId string, fn func(ctx context.Context) error) error {
	return WithTx(ctx, u.db, func(txCtx context.Context) error {
		if u.db.DriverName() == DriverPostgres {
			if _, err := TxFromContext(txCtx).ExecContext(txCtx, `SELECT pg_advisory_xact_lock(hashtext($1))`, productId); err != nil {
				return fmt.Errorf("lock product %s: %w", productId, err)
			}
		}
		return fn(txCtx)
	})
}
