package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/gateways"
	"github.com/giovaniif/stock-reservation/protocols"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 1 * time.Second
)

var (
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrEmptyCart             = errors.New("cart has no lines")
	ErrConfirmationFailed    = errors.New("failed to confirm reservation")
)

type Checkout struct {
	stockGateway    protocols.StockGateway
	paymentGateway  protocols.PaymentGateway
	checkoutGateway protocols.CheckoutGateway
	sleeper         protocols.Sleeper
	logger          *zap.Logger
	maxRetries      int
	baseDelay       time.Duration
}

type Option func(*Checkout)

func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Checkout) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

func NewCheckout(
	stockGateway protocols.StockGateway,
	paymentGateway protocols.PaymentGateway,
	checkoutGateway protocols.CheckoutGateway,
	sleeper protocols.Sleeper,
	logger *zap.Logger,
	opts ...Option,
) *Checkout {
	c := &Checkout{
		stockGateway:    stockGateway,
		paymentGateway:  paymentGateway,
		checkoutGateway: checkoutGateway,
		sleeper:         sleeper,
		logger:          logger,
		maxRetries:      DefaultMaxRetries,
		baseDelay:       DefaultBaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Checkout holds every cart line, charges the buyer and confirms the holds. When a line cannot be
// held or the charge fails, every line held so far is released again.
func (c *Checkout) Checkout(ctx context.Context, input Input) (Output, error) {
	if input.IdempotencyKey == "" {
		return Output{}, ErrMissingIdempotencyKey
	}
	if input.UserId == "" {
		return Output{}, reservation.ErrInvalidId
	}
	lines, err := mergeLines(input.Lines)
	if err != nil {
		return Output{}, err
	}

	result, err := c.checkoutGateway.ReserveIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		return Output{}, err
	}
	if result != nil && result.Success {
		return Output{Status: StatusCompleted, Replayed: true}, nil
	}

	success := false
	defer func() {
		// the outcome must be recorded even when the request context is gone
		markCtx := context.WithoutCancel(ctx)
		if success {
			_ = c.checkoutGateway.MarkSuccess(markCtx, input.IdempotencyKey)
		} else {
			_ = c.checkoutGateway.MarkFailure(markCtx, input.IdempotencyKey)
		}
	}()

	log := c.logger.With(zap.String("idempotency_key", input.IdempotencyKey), zap.String("user_id", input.UserId))

	var held []Line
	for _, line := range lines {
		ok, uncertain, err := c.reserveLine(ctx, log, input, line)
		if err != nil || !ok {
			toRelease := held
			if uncertain {
				toRelease = append(toRelease, line)
			}
			c.releaseAll(ctx, log, input.UserId, toRelease)
		}
		if err != nil {
			return Output{}, err
		}
		if !ok {
			log.Info("cart line unavailable", zap.String("product_id", line.ProductId), zap.Int("quantity", line.Quantity))
			return Output{Status: StatusUnavailable, UnavailableProductId: line.ProductId}, nil
		}
		held = append(held, line)
	}

	if err := c.paymentGateway.Charge(ctx, input.Amount); err != nil {
		log.Warn("failed to charge", zap.Error(err))
		c.releaseAll(ctx, log, input.UserId, held)
		return Output{}, err
	}

	for i, line := range held {
		ok, err := c.stockGateway.ConfirmReservation(ctx, line.ProductId, input.UserId, line.Quantity)
		if err == nil && !ok {
			err = fmt.Errorf("%w: no live hold for %s", ErrConfirmationFailed, line.ProductId)
		}
		if err != nil {
			log.Error("failed to confirm reservation after payment",
				zap.String("product_id", line.ProductId),
				zap.Int("confirmed_lines", i),
				zap.Error(err),
			)
			c.releaseAll(ctx, log, input.UserId, held[i:])
			return Output{}, err
		}
	}

	success = true
	log.Info("checkout completed", zap.Int("lines", len(held)))
	return Output{Status: StatusCompleted}, nil
}

// reserveLine holds one cart line. A reserve that failed with a retriable error may still have been
// applied by the stock service, in which case the retry sees the user's own hold and is rejected.
// A rejection after such a failure is resolved by releasing the product and reserving it again.
// uncertain reports whether a hold for the line may exist although ok is false.
func (c *Checkout) reserveLine(ctx context.Context, log *zap.Logger, input Input, line Line) (ok bool, uncertain bool, err error) {
	reserveOnce := func() (bool, error) {
		ok, err := c.stockGateway.ReserveStock(ctx, line.ProductId, input.UserId, line.Quantity, input.SessionId)
		if gateways.IsRetriable(err) {
			uncertain = true
		}
		return ok, err
	}

	ok, err = retryWithBackoff(ctx, c, reserveOnce)
	if err != nil || ok || !uncertain {
		return ok, uncertain, err
	}

	log.Info("reserve rejected after a failed attempt, reclaiming hold", zap.String("product_id", line.ProductId))
	if _, err := c.stockGateway.ReleaseReservation(ctx, line.ProductId, input.UserId); err != nil {
		return false, true, err
	}
	ok, err = retryWithBackoff(ctx, c, reserveOnce)
	return ok, uncertain, err
}

func (c *Checkout) releaseAll(ctx context.Context, log *zap.Logger, userId string, lines []Line) {
	releaseCtx := context.WithoutCancel(ctx)
	for _, line := range lines {
		if _, err := c.stockGateway.ReleaseReservation(releaseCtx, line.ProductId, userId); err != nil {
			log.Warn("failed to release reservation", zap.String("product_id", line.ProductId), zap.Error(err))
		}
	}
}

// mergeLines folds repeated products into one line, since a user can hold a product only once.
func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductId == "" {
			return nil, reservation.ErrInvalidId
		}
		if line.Quantity <= 0 {
			return nil, reservation.ErrInvalidQuantity
		}
		totals[line.ProductId] += line.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for productId, quantity := range totals {
		merged = append(merged, Line{ProductId: productId, Quantity: quantity})
	}
	// deterministic order, so the first unavailable line reported is stable
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductId < merged[j].ProductId })
	return merged, nil
}

// retryWithBackoff retries operation while it fails with a retriable gateway error,
// doubling the delay after every attempt.
func retryWithBackoff[T any](ctx context.Context, c *Checkout, operation func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for i := 0; i < c.maxRetries; i++ {
		val, err := operation()
		if err == nil {
			return val, nil
		}
		if !gateways.IsRetriable(err) {
			return zero, err
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		delay := time.Duration(math.Pow(2, float64(i))) * c.baseDelay
		c.logger.Debug("retrying stock operation", zap.Duration("delay", delay), zap.Error(err))
		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

type Line struct {
	ProductId string
	Quantity  int
}

type Input struct {
	IdempotencyKey string
	UserId         string
	SessionId      string
	Lines          []Line
	Amount         float64
}

type Status string

const (
	StatusCompleted   Status = "completed"
	StatusUnavailable Status = "unavailable"
)

type Output struct {
	Status               Status
	UnavailableProductId string
	Replayed             bool
}
