package reservation

import (
	"context"
	"time"
)

type CreateInput struct {
	ProductId string
	UserId    string
	Quantity  int
	SessionId string
	Duration  time.Duration
}

type Repository interface {
	Create(ctx context.Context, input CreateInput) (StockReservation, error)
	Get(ctx context.Context, reservationId string) (*StockReservation, error)
	// Deactivate only transitions a record that is still active; it reports false otherwise.
	Deactivate(ctx context.Context, reservationId string, outcome Outcome) (bool, error)
	ActiveForProduct(ctx context.Context, productId string) ([]StockReservation, error)
	ActiveForUser(ctx context.Context, userId string) ([]StockReservation, error)
	ExpiredButActive(ctx context.Context) ([]StockReservation, error)
}
