package cleanup

import (
	"context"
	"time"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/infra/events"
	"github.com/giovaniif/stock-reservation/infra/metrics"
	"github.com/giovaniif/stock-reservation/infra/tracing"
	"github.com/giovaniif/stock-reservation/protocols"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Cleanup struct {
	reservationRepository reservation.Repository
	publisher             protocols.EventPublisher
	clock                 clock.Clock
	logger                *zap.Logger
}

func NewCleanup(reservationRepository reservation.Repository, publisher protocols.EventPublisher, clk clock.Clock, logger *zap.Logger) *Cleanup {
	return &Cleanup{
		reservationRepository: reservationRepository,
		publisher:             publisher,
		clock:                 clk,
		logger:                logger,
	}
}

// Run expires every hold past its deadline. It never fails: errors are logged and counted in
// Result.Failed so that one bad record does not stop the pass.
func (c *Cleanup) Run(ctx context.Context) Result {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "stock.cleanup")
	var listErr error
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
		tracing.End(span, listErr)
	}()

	expired, listErr := c.reservationRepository.ExpiredButActive(ctx)
	if listErr != nil {
		metrics.SweepFailures.Inc()
		c.logger.Error("failed to list expired reservations", zap.Error(listErr))
		return Result{Failed: 1}
	}

	var result Result
	for _, r := range expired {
		if ctx.Err() != nil {
			c.logger.Warn("cleanup interrupted", zap.Int("remaining", len(expired)-result.Expired-result.Failed-result.Skipped))
			break
		}
		ok, err := c.reservationRepository.Deactivate(ctx, r.Id, reservation.OutcomeExpired)
		if err != nil {
			result.Failed++
			metrics.SweepFailures.Inc()
			c.logger.Error("failed to expire reservation",
				zap.String("reservation_id", r.Id),
				zap.String("product_id", r.ProductId),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Expired++
		metrics.ReservationTransitions.WithLabelValues(string(reservation.OutcomeExpired)).Inc()
		events.Publish(ctx, c.publisher, c.logger,
			protocols.NewReservationEvent(protocols.EventReservationExpired, r, reservation.OutcomeExpired, c.clock.Now()))
	}

	span.SetAttributes(
		attribute.Int("cleanup.expired", result.Expired),
		attribute.Int("cleanup.failed", result.Failed),
	)
	if result.Expired > 0 || result.Failed > 0 {
		c.logger.Info("expired reservations swept",
			zap.Int("expired", result.Expired),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return result
}

// Result counts the outcome of one pass. Skipped records were deactivated by a concurrent
// release or confirmation between listing and expiring them.
type Result struct {
	Expired int
	Skipped int
	Failed  int
}
