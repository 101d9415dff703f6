package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/infra/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const reservationColumns = `id, product_id, user_id, quantity, session_id, expires_at, is_active, outcome, created_at, updated_at`

type reservationRow struct {
	Id        string `db:"id"`
	ProductId string `db:"product_id"`
	UserId    string `db:"user_id"`
	Quantity  int    `db:"quantity"`
	SessionId string `db:"session_id"`
	ExpiresAt int64  `db:"expires_at"`
	IsActive  bool   `db:"is_active"`
	Outcome   string `db:"outcome"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r reservationRow) toDomain() reservation.StockReservation {
	return reservation.StockReservation{
		Id:        r.Id,
		ProductId: r.ProductId,
		UserId:    r.UserId,
		Quantity:  r.Quantity,
		SessionId: r.SessionId,
		ExpiresAt: fromNanos(r.ExpiresAt),
		IsActive:  r.IsActive,
		Outcome:   reservation.Outcome(r.Outcome),
		CreatedAt: fromNanos(r.CreatedAt),
		UpdatedAt: fromNanos(r.UpdatedAt),
	}
}

// SqlReservationRepository stores holds in stock_reservations. Timestamps are unix nanoseconds
// so that deadline comparisons behave the same on Postgres and sqlite.
type SqlReservationRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

func NewSqlReservationRepository(db *sqlx.DB, clk clock.Clock) *SqlReservationRepository {
	return &SqlReservationRepository{db: db, clock: clk}
}

func (r *SqlReservationRepository) Create(ctx context.Context, input reservation.CreateInput) (reservation.StockReservation, error) {
	if input.Quantity <= 0 {
		return reservation.StockReservation{}, reservation.ErrInvalidQuantity
	}
	now := r.clock.Now()
	created := reservation.StockReservation{
		Id:        uuid.NewString(),
		ProductId: input.ProductId,
		UserId:    input.UserId,
		Quantity:  input.Quantity,
		SessionId: input.SessionId,
		ExpiresAt: now.Add(input.Duration),
		IsActive:  true,
		Outcome:   reservation.OutcomeActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := database.Ext(ctx, r.db)
	_, err := q.ExecContext(ctx, q.Rebind(`
INSERT INTO stock_reservations (`+reservationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		created.Id,
		created.ProductId,
		created.UserId,
		created.Quantity,
		created.SessionId,
		created.ExpiresAt.UnixNano(),
		created.IsActive,
		string(created.Outcome),
		created.CreatedAt.UnixNano(),
		created.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return reservation.StockReservation{}, fmt.Errorf("create reservation: %w", err)
	}
	return created, nil
}

func (r *SqlReservationRepository) Get(ctx context.Context, reservationId string) (*reservation.StockReservation, error) {
	q := database.Ext(ctx, r.db)
	var row reservationRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+reservationColumns+` FROM stock_reservations WHERE id = ?`), reservationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	found := row.toDomain()
	return &found, nil
}

func (r *SqlReservationRepository) Deactivate(ctx context.Context, reservationId string, outcome reservation.Outcome) (bool, error) {
	q := database.Ext(ctx, r.db)
	res, err := q.ExecContext(ctx, q.Rebind(`
UPDATE stock_reservations
SET is_active = FALSE, outcome = ?, updated_at = ?
WHERE id = ? AND is_active = TRUE`),
		string(outcome), r.clock.Now().UnixNano(), reservationId)
	if err != nil {
		return false, fmt.Errorf("deactivate reservation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate reservation: %w", err)
	}
	return affected == 1, nil
}

func (r *SqlReservationRepository) ActiveForProduct(ctx context.Context, productId string) ([]reservation.StockReservation, error) {
	return r.list(ctx, "active for product",
		`WHERE product_id = ? AND is_active = TRUE AND expires_at > ?`,
		productId, r.clock.Now().UnixNano())
}

func (r *SqlReservationRepository) ActiveForUser(ctx context.Context, userId string) ([]reservation.StockReservation, error) {
	return r.list(ctx, "active for user",
		`WHERE user_id = ? AND is_active = TRUE`,
		userId)
}

func (r *SqlReservationRepository) ExpiredButActive(ctx context.Context) ([]reservation.StockReservation, error) {
	return r.list(ctx, "expired but active",
		`WHERE is_active = TRUE AND expires_at <= ?`,
		r.clock.Now().UnixNano())
}

func (r *SqlReservationRepository) list(ctx context.Context, op, where string, args ...any) ([]reservation.StockReservation, error) {
	q := database.Ext(ctx, r.db)
	var rows []reservationRow
	query := q.Rebind(`SELECT ` + reservationColumns + ` FROM stock_reservations ` + where + ` ORDER BY created_at, id`)
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]reservation.StockReservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
