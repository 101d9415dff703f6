package confirm

import (
	"context"
	"errors"
	"fmt"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/infra/events"
	"github.com/giovaniif/stock-reservation/infra/metrics"
	"github.com/giovaniif/stock-reservation/infra/tracing"
	"github.com/giovaniif/stock-reservation/protocols"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// errHoldLost aborts the unit when the hold was deactivated by someone else after it was read.
var errHoldLost = errors.New("hold deactivated concurrently")

type Confirm struct {
	reservationRepository reservation.Repository
	catalog               protocols.Catalog
	unitOfWork            protocols.UnitOfWork
	publisher             protocols.EventPublisher
	clock                 clock.Clock
	logger                *zap.Logger
}

func NewConfirm(
	reservationRepository reservation.Repository,
	catalog protocols.Catalog,
	unitOfWork protocols.UnitOfWork,
	publisher protocols.EventPublisher,
	clk clock.Clock,
	logger *zap.Logger,
) *Confirm {
	return &Confirm{
		reservationRepository: reservationRepository,
		catalog:               catalog,
		unitOfWork:            unitOfWork,
		publisher:             publisher,
		clock:                 clk,
		logger:                logger,
	}
}

// Confirm turns the user's live hold into a permanent stock decrement. A missing hold reports
// Confirmed=false; stock that dropped below the held quantity is ErrInsufficientStock and nothing
// is written.
func (c *Confirm) Confirm(ctx context.Context, input Input) (output Output, err error) {
	if input.ProductId == "" || input.UserId == "" {
		metrics.ConfirmAttempts.WithLabelValues("invalid").Inc()
		return Output{}, reservation.ErrInvalidId
	}
	if input.Quantity <= 0 {
		metrics.ConfirmAttempts.WithLabelValues("invalid").Inc()
		return Output{}, reservation.ErrInvalidQuantity
	}

	ctx, span := tracing.StartSpan(ctx, "stock.confirm",
		attribute.String("product.id", input.ProductId),
		attribute.Int("quantity", input.Quantity),
	)
	defer func() { tracing.End(span, err) }()

	err = c.unitOfWork.RunAtomically(ctx, input.ProductId, func(ctx context.Context) error {
		output = Output{}
		hold, err := c.liveHold(ctx, input.ProductId, input.UserId)
		if err != nil || hold == nil {
			return err
		}
		if hold.Quantity != input.Quantity {
			return fmt.Errorf("%w: held %d, confirming %d", reservation.ErrQuantityMismatch, hold.Quantity, input.Quantity)
		}
		if err := c.catalog.DecrementStock(ctx, input.ProductId, input.Quantity); err != nil {
			return err
		}
		ok, err := c.reservationRepository.Deactivate(ctx, hold.Id, reservation.OutcomeConfirmed)
		if err != nil {
			return fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			return errHoldLost
		}
		confirmed := *hold
		confirmed.IsActive = false
		confirmed.Outcome = reservation.OutcomeConfirmed
		output.Confirmed = true
		output.Reservation = &confirmed
		return nil
	})

	switch {
	case errors.Is(err, errHoldLost):
		metrics.ConfirmAttempts.WithLabelValues("not_found").Inc()
		return Output{}, nil
	case errors.Is(err, reservation.ErrInsufficientStock):
		metrics.ConfirmAttempts.WithLabelValues("insufficient_stock").Inc()
		c.logger.Error("stock fell below held quantity at confirmation",
			zap.String("product_id", input.ProductId),
			zap.String("user_id", input.UserId),
			zap.Int("quantity", input.Quantity),
		)
		return Output{}, err
	case errors.Is(err, reservation.ErrQuantityMismatch):
		metrics.ConfirmAttempts.WithLabelValues("mismatch").Inc()
		return Output{}, err
	case err != nil:
		metrics.ConfirmAttempts.WithLabelValues("error").Inc()
		return Output{}, err
	}

	if !output.Confirmed {
		metrics.ConfirmAttempts.WithLabelValues("not_found").Inc()
		return output, nil
	}
	metrics.ConfirmAttempts.WithLabelValues("confirmed").Inc()
	metrics.ReservationTransitions.WithLabelValues(string(reservation.OutcomeConfirmed)).Inc()
	events.Publish(ctx, c.publisher, c.logger,
		protocols.NewReservationEvent(protocols.EventReservationConfirmed, *output.Reservation, reservation.OutcomeConfirmed, c.clock.Now()))
	return output, nil
}

func (c *Confirm) liveHold(ctx context.Context, productId, userId string) (*reservation.StockReservation, error) {
	holds, err := c.reservationRepository.ActiveForUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}
	now := c.clock.Now()
	for _, h := range holds {
		if h.ProductId == productId && h.IsLive(now) {
			found := h
			return &found, nil
		}
	}
	return nil, nil
}

type Input struct {
	ProductId string
	UserId    string
	Quantity  int
}

type Output struct {
	Confirmed   bool
	Reservation *reservation.StockReservation
}
