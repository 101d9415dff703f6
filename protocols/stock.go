package protocols

import "context"

// StockGateway is the surface the cart and checkout workflows use to hold, release and
// confirm stock.
type StockGateway interface {
	ReserveStock(ctx context.Context, productId string, userId string, quantity int, sessionId string) (bool, error)
	ReleaseReservation(ctx context.Context, productId string, userId string) (bool, error)
	ConfirmReservation(ctx context.Context, productId string, userId string, quantity int) (bool, error)
	GetAvailableStock(ctx context.Context, productId string) (int, error)
}
