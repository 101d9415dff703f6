package gateways

import (
	"context"
	"errors"
	"sync"

	"github.com/giovaniif/stock-reservation/protocols"
)

var ErrCheckoutInProgress = errors.New("idempotency key is already being processed")

const (
	checkoutProcessing = "processing"
	checkoutSucceeded  = "success"
)

type CheckoutGatewayMemory struct {
	mutex           sync.RWMutex
	idempotencyKeys map[string]*checkoutState
}

type checkoutState struct {
	Status string
	Result *protocols.CheckoutIdempotencyKeyResult
}

func NewCheckoutGatewayMemory() *CheckoutGatewayMemory {
	return &CheckoutGatewayMemory{
		idempotencyKeys: make(map[string]*checkoutState),
	}
}

// ReserveIdempotencyKey returns the stored result for a finished checkout, claims the key for a new
// one (nil, nil), or fails with ErrCheckoutInProgress while another request holds it.
func (c *CheckoutGatewayMemory) ReserveIdempotencyKey(ctx context.Context, idempotencyKey string) (*protocols.CheckoutIdempotencyKeyResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if state, exists := c.idempotencyKeys[idempotencyKey]; exists {
		switch state.Status {
		case checkoutSucceeded:
			return state.Result, nil
		case checkoutProcessing:
			return nil, ErrCheckoutInProgress
		}
	}
	c.idempotencyKeys[idempotencyKey] = &checkoutState{Status: checkoutProcessing}
	return nil, nil
}

func (c *CheckoutGatewayMemory) MarkFailure(_ context.Context, idempotencyKey string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if state, exists := c.idempotencyKeys[idempotencyKey]; exists && state.Status == checkoutProcessing {
		delete(c.idempotencyKeys, idempotencyKey)
	}
	return nil
}

func (c *CheckoutGatewayMemory) MarkSuccess(_ context.Context, idempotencyKey string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if state, exists := c.idempotencyKeys[idempotencyKey]; exists {
		state.Status = checkoutSucceeded
		state.Result = &protocols.CheckoutIdempotencyKeyResult{Success: true}
	}
	return nil
}
