package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/infra/database"
	"github.com/jmoiron/sqlx"
)

type SqlCatalog struct {
	db    *sqlx.DB
	clock clock.Clock
}

func NewSqlCatalog(db *sqlx.DB, clk clock.Clock) *SqlCatalog {
	return &SqlCatalog{db: db, clock: clk}
}

func (c *SqlCatalog) OnHandStock(ctx context.Context, productId string) (int, error) {
	q := database.Ext(ctx, c.db)
	var stock int
	err := sqlx.GetContext(ctx, q, &stock, q.Rebind(`SELECT stock FROM products WHERE id = ?`), productId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, reservation.ErrProductNotFound
		}
		return 0, fmt.Errorf("on hand stock: %w", err)
	}
	return stock, nil
}

// DecrementStock only succeeds while enough stock remains; the guard lives in the UPDATE itself.
func (c *SqlCatalog) DecrementStock(ctx context.Context, productId string, quantity int) error {
	if quantity <= 0 {
		return reservation.ErrInvalidQuantity
	}
	q := database.Ext(ctx, c.db)
	res, err := q.ExecContext(ctx, q.Rebind(`
UPDATE products
SET stock = stock - ?, updated_at = ?
WHERE id = ? AND stock >= ?`),
		quantity, c.clock.Now().UnixNano(), productId, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := c.OnHandStock(ctx, productId); err != nil {
		return err
	}
	return reservation.ErrInsufficientStock
}

func (c *SqlCatalog) SetStock(ctx context.Context, productId string, quantity int) error {
	if quantity < 0 {
		return reservation.ErrInvalidQuantity
	}
	q := database.Ext(ctx, c.db)
	_, err := q.ExecContext(ctx, q.Rebind(`
INSERT INTO products (id, stock, updated_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET stock = excluded.stock, updated_at = excluded.updated_at`),
		productId, quantity, c.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	return nil
}
