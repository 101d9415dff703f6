package protocols

import "context"

// UnitOfWork runs fn so that it is atomic with respect to other units on the same product.
// Repositories must use the ctx handed to fn.
type UnitOfWork interface {
	RunAtomically(ctx context.Context, productId string, fn func(ctx context.Context) error) error
}
