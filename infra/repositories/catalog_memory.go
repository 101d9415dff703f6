package repositories

import (
	"context"
	"sync"

	"github.com/giovaniif/stock-reservation/domain/reservation"
)

type MemoryCatalog struct {
	mu    sync.RWMutex
	stock map[string]int
}

func NewMemoryCatalog(initialStock map[string]int) *MemoryCatalog {
	stock := make(map[string]int, len(initialStock))
	for id, qty := range initialStock {
		stock[id] = qty
	}
	return &MemoryCatalog{stock: stock}
}

func (c *MemoryCatalog) OnHandStock(_ context.Context, productId string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	qty, ok := c.stock[productId]
	if !ok {
		return 0, reservation.ErrProductNotFound
	}
	return qty, nil
}

func (c *MemoryCatalog) DecrementStock(ctx context.Context, productId string, quantity int) error {
	if quantity <= 0 {
		return reservation.ErrInvalidQuantity
	}
	c.mu.Lock()
	qty, ok := c.stock[productId]
	if !ok {
		c.mu.Unlock()
		return reservation.ErrProductNotFound
	}
	if qty < quantity {
		c.mu.Unlock()
		return reservation.ErrInsufficientStock
	}
	c.stock[productId] = qty - quantity
	c.mu.Unlock()

	onRollback(ctx, func() {
		c.mu.Lock()
		c.stock[productId] += quantity
		c.mu.Unlock()
	})
	return nil
}

// SetStock overwrites on-hand stock, standing in for out-of-band catalog edits.
func (c *MemoryCatalog) SetStock(_ context.Context, productId string, quantity int) error {
	if quantity < 0 {
		return reservation.ErrInvalidQuantity
	}
	c.mu.Lock()
	c.stock[productId] = quantity
	c.mu.Unlock()
	return nil
}
