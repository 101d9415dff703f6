package protocols

import "context"

// Catalog is the product store that owns on-hand stock.
// DecrementStock fails with reservation.ErrInsufficientStock when stock would go negative.
type Catalog interface {
	OnHandStock(ctx context.Context, productId string) (int, error)
	DecrementStock(ctx context.Context, productId string, quantity int) error
}
