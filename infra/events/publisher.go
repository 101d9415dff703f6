package events

import (
	"context"

	"github.com/giovaniif/stock-reservation/protocols"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Publish hands every event to publisher. Publishing is best effort: failures are logged,
// never returned, so a broker outage cannot fail a reservation that is already committed.
func Publish(ctx context.Context, publisher protocols.EventPublisher, logger *zap.Logger, evts ...protocols.ReservationEvent) {
	if publisher == nil {
		return
	}
	for _, evt := range evts {
		if err := publisher.Publish(ctx, evt); err != nil {
			logger.Warn("failed to publish reservation event",
				zap.String("event_type", evt.Type),
				zap.String("reservation_id", evt.ReservationId),
				zap.Error(err),
			)
		}
	}
}

type multiPublisher []protocols.EventPublisher

// Multi fans each event out to every non-nil publisher and combines their errors.
func Multi(publishers ...protocols.EventPublisher) protocols.EventPublisher {
	var out multiPublisher
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multiPublisher) Publish(ctx context.Context, evt protocols.ReservationEvent) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, evt))
	}
	return err
}

type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt protocols.ReservationEvent) error {
	p.logger.Info("reservation event",
		zap.String("event_type", evt.Type),
		zap.String("reservation_id", evt.ReservationId),
		zap.String("product_id", evt.ProductId),
		zap.String("user_id", evt.UserId),
		zap.Int("quantity", evt.Quantity),
		zap.String("outcome", string(evt.Outcome)),
	)
	return nil
}
