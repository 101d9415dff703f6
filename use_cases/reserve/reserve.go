package reserve

import (
	"context"
	"fmt"
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

type Reserve struct {
	reservationRepository reservation.Repository
	catalog               protocols.Catalog
	unitOfWork            protocols.UnitOfWork
	publisher             protocols.EventPublisher
	clock                 clock.Clock
	logger                *zap.Logger
	holdDuration          time.Duration
}

type Option func(*Reserve)

func WithHoldDuration(d time.Duration) Option {
	return func(r *Reserve) {
		if d > 0 {
			r.holdDuration = d
		}
	}
}

func WithPublisher(publisher protocols.EventPublisher) Option {
	return func(r *Reserve) {
		r.publisher = publisher
	}
}

func NewReserve(
	reservationRepository reservation.Repository,
	catalog protocols.Catalog,
	unitOfWork protocols.UnitOfWork,
	clk clock.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Reserve {
	r := &Reserve{
		reservationRepository: reservationRepository,
		catalog:               catalog,
		unitOfWork:            unitOfWork,
		clock:                 clk,
		logger:                logger,
		holdDuration:          reservation.DefaultHoldDuration,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reserve places a hold for the user unless they already hold the product or not enough stock
// is available. Both rejections are reported through Output.Reserved, not as errors.
func (r *Reserve) Reserve(ctx context.Context, input Input) (output Output, err error) {
	if input.ProductId == "" || input.UserId == "" {
		metrics.ReserveAttempts.WithLabelValues("invalid").Inc()
		return Output{}, reservation.ErrInvalidId
	}
	if input.Quantity <= 0 {
		metrics.ReserveAttempts.WithLabelValues("invalid").Inc()
		return Output{}, reservation.ErrInvalidQuantity
	}

	ctx, span := tracing.StartSpan(ctx, "stock.reserve",
		attribute.String("product.id", input.ProductId),
		attribute.Int("quantity", input.Quantity),
	)
	defer func() { tracing.End(span, err) }()

	var pending []protocols.ReservationEvent
	err = r.unitOfWork.RunAtomically(ctx, input.ProductId, func(ctx context.Context) error {
		pending = nil
		output = Output{}

		held, expired, err := r.userHold(ctx, input.ProductId, input.UserId)
		if err != nil {
			return err
		}
		pending = append(pending, expired...)
		if held {
			output.Result = ResultDuplicate
			return nil
		}

		onHand, err := r.catalog.OnHandStock(ctx, input.ProductId)
		if err != nil {
			return err
		}
		holds, err := r.reservationRepository.ActiveForProduct(ctx, input.ProductId)
		if err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		available := reservation.Available(onHand, holds, r.clock.Now())
		if available < input.Quantity {
			output.Result = ResultUnavailable
			output.Available = available
			return nil
		}

		created, err := r.reservationRepository.Create(ctx, reservation.CreateInput{
			ProductId: input.ProductId,
			UserId:    input.UserId,
			Quantity:  input.Quantity,
			SessionId: input.SessionId,
			Duration:  r.holdDuration,
		})
		if err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		output.Result = ResultReserved
		output.Reserved = true
		output.Reservation = &created
		output.Available = available - input.Quantity
		pending = append(pending, protocols.NewReservationEvent(protocols.EventReservationCreated, created, reservation.OutcomeActive, created.CreatedAt))
		return nil
	})
	if err != nil {
		metrics.ReserveAttempts.WithLabelValues("error").Inc()
		return Output{}, err
	}

	metrics.ReserveAttempts.WithLabelValues(string(output.Result)).Inc()
	for _, evt := range pending {
		if evt.Type == protocols.EventReservationExpired {
			metrics.ReservationTransitions.WithLabelValues(string(reservation.OutcomeExpired)).Inc()
		}
	}
	events.Publish(ctx, r.publisher, r.logger, pending...)
	r.logger.Debug("reserve stock",
		zap.String("product_id", input.ProductId),
		zap.String("user_id", input.UserId),
		zap.Int("quantity", input.Quantity),
		zap.String("result", string(output.Result)),
	)
	return output, nil
}

// userHold reports whether the user has a live hold on the product. Holds past their deadline
// that the sweeper has not reached yet are expired on the way.
func (r *Reserve) userHold(ctx context.Context, productId, userId string) (bool, []protocols.ReservationEvent, error) {
	holds, err := r.reservationRepository.ActiveForUser(ctx, userId)
	if err != nil {
		return false, nil, fmt.Errorf("reserve: %w", err)
	}
	now := r.clock.Now()
	var expired []protocols.ReservationEvent
	held := false
	for _, h := range holds {
		if h.ProductId != productId {
			continue
		}
		if h.IsLive(now) {
			held = true
			continue
		}
		ok, err := r.reservationRepository.Deactivate(ctx, h.Id, reservation.OutcomeExpired)
		if err != nil {
			return false, nil, fmt.Errorf("reserve: %w", err)
		}
		if ok {
			expired = append(expired, protocols.NewReservationEvent(protocols.EventReservationExpired, h, reservation.OutcomeExpired, now))
		}
	}
	return held, expired, nil
}

type Input struct {
	ProductId string
	UserId    string
	Quantity  int
	SessionId string
}

type Result string

const (
	ResultReserved    Result = "reserved"
	ResultUnavailable Result = "unavailable"
	ResultDuplicate   Result = "duplicate"
)

type Output struct {
	Reserved    bool
	Result      Result
	Reservation *reservation.StockReservation
	Available   int
}
