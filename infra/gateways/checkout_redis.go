package gateways

import (
	"context"
	"fmt"
	"time"

	"github.com/giovaniif/stock-reservation/protocols"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "stock:checkout:"
	DefaultClaimTTL      = 5 * time.Minute
	DefaultResultTTL     = 24 * time.Hour
)

// claimScript returns the stored status, or claims the key as processing when it has none.
var claimScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status then
	return status
end
redis.call("HSET", KEYS[1], "status", ARGV[1], "claimed_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return ""`)

// abandonScript frees a key that is still processing; a recorded success is kept.
var abandonScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// CheckoutGatewayRedis keeps checkout idempotency keys in Redis hashes so that every replica of
// the service sees the same claims. A claim that is never resolved lapses after claimTTL.
type CheckoutGatewayRedis struct {
	client    redis.UniversalClient
	claimTTL  time.Duration
	resultTTL time.Duration
}

func NewCheckoutGatewayRedis(client redis.UniversalClient) *CheckoutGatewayRedis {
	return &CheckoutGatewayRedis{client: client, claimTTL: DefaultClaimTTL, resultTTL: DefaultResultTTL}
}

func (c *CheckoutGatewayRedis) key(idempotencyKey string) string {
	return idempotencyKeyPrefix + idempotencyKey
}

func (c *CheckoutGatewayRedis) ReserveIdempotencyKey(ctx context.Context, idempotencyKey string) (*protocols.CheckoutIdempotencyKeyResult, error) {
	status, err := claimScript.Run(ctx, c.client, []string{c.key(idempotencyKey)},
		checkoutProcessing,
		time.Now().UnixNano(),
		c.claimTTL.Milliseconds(),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	switch status {
	case "":
		return nil, nil
	case checkoutSucceeded:
		return &protocols.CheckoutIdempotencyKeyResult{Success: true}, nil
	case checkoutProcessing:
		return nil, ErrCheckoutInProgress
	default:
		return nil, fmt.Errorf("idempotency key %s has unknown status %q", idempotencyKey, status)
	}
}

func (c *CheckoutGatewayRedis) MarkFailure(ctx context.Context, idempotencyKey string) error {
	if err := abandonScript.Run(ctx, c.client, []string{c.key(idempotencyKey)}, checkoutProcessing).Err(); err != nil {
		return fmt.Errorf("abandon idempotency key: %w", err)
	}
	return nil
}

func (c *CheckoutGatewayRedis) MarkSuccess(ctx context.Context, idempotencyKey string) error {
	k := c.key(idempotencyKey)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "status", checkoutSucceeded, "completed_at", time.Now().UnixNano())
		pipe.Expire(ctx, k, c.resultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record checkout success: %w", err)
	}
	return nil
}
