package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giovaniif/stock-reservation/protocols"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "lock:stock:product:"
	retryInterval = 20 * time.Millisecond
)

var ErrLockTimeout = errors.New("timed out acquiring product lock")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type heldKey struct{}

// RedisLocker serialises units on a product across processes with a Redis lock, then runs them
// through the wrapped unit of work. The lock expires after ttl so a crashed holder cannot block
// a product forever.
type RedisLocker struct {
	client redis.UniversalClient
	inner  protocols.UnitOfWork
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(client redis.UniversalClient, inner protocols.UnitOfWork, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, inner: inner, ttl: ttl, wait: ttl}
}

func (l *RedisLocker) RunAtomically(ctx context.Context, productId string, fn func(ctx context.Context) error) error {
	if held, _ := ctx.Value(heldKey{}).(map[string]struct{}); held != nil {
		if _, ok := held[productId]; ok {
			return l.inner.RunAtomically(ctx, productId, fn)
		}
	}

	key := lockKeyPrefix + productId
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		// released with a fresh context so a cancelled request still frees the lock
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}()

	return l.inner.RunAtomically(withHeld(ctx, productId), productId, fn)
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func withHeld(ctx context.Context, productId string) context.Context {
	held := map[string]struct{}{productId: {}}
	if parent, _ := ctx.Value(heldKey{}).(map[string]struct{}); parent != nil {
		for p := range parent {
			held[p] = struct{}{}
		}
	}
	return context.WithValue(ctx, heldKey{}, held)
}
