package release

import (
	"context"
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

type Release struct {
	reservationRepository reservation.Repository
	publisher             protocols.EventPublisher
	clock                 clock.Clock
	logger                *zap.Logger
}

func NewRelease(reservationRepository reservation.Repository, publisher protocols.EventPublisher, clk clock.Clock, logger *zap.Logger) *Release {
	return &Release{
		reservationRepository: reservationRepository,
		publisher:             publisher,
		clock:                 clk,
		logger:                logger,
	}
}

// Release gives back the user's live hold on the product. Releasing when there is nothing to
// release is not an error.
func (r *Release) Release(ctx context.Context, input Input) (output Output, err error) {
	if input.ProductId == "" || input.UserId == "" {
		return Output{}, reservation.ErrInvalidId
	}

	ctx, span := tracing.StartSpan(ctx, "stock.release", attribute.String("product.id", input.ProductId))
	defer func() { tracing.End(span, err) }()

	holds, err := r.reservationRepository.ActiveForUser(ctx, input.UserId)
	if err != nil {
		return Output{}, fmt.Errorf("release: %w", err)
	}

	now := r.clock.Now()
	var pending []protocols.ReservationEvent
	for _, h := range holds {
		if h.ProductId != input.ProductId {
			continue
		}
		outcome, eventType := reservation.OutcomeReleased, protocols.EventReservationReleased
		if h.IsOverdue(now) {
			outcome, eventType = reservation.OutcomeExpired, protocols.EventReservationExpired
		}
		ok, err := r.reservationRepository.Deactivate(ctx, h.Id, outcome)
		if err != nil {
			return Output{}, fmt.Errorf("release: %w", err)
		}
		if !ok {
			continue
		}
		metrics.ReservationTransitions.WithLabelValues(string(outcome)).Inc()
		pending = append(pending, protocols.NewReservationEvent(eventType, h, outcome, now))
		if outcome == reservation.OutcomeReleased {
			released := h
			released.IsActive = false
			released.Outcome = outcome
			output.Released = true
			output.Reservation = &released
		}
	}

	events.Publish(ctx, r.publisher, r.logger, pending...)
	r.logger.Debug("release reservation",
		zap.String("product_id", input.ProductId),
		zap.String("user_id", input.UserId),
		zap.Bool("released", output.Released),
	)
	return output, nil
}

type Input struct {
	ProductId string
	UserId    string
}

type Output struct {
	Released    bool
	Reservation *reservation.StockReservation
}
