package inventory

import (
	"context"
	"time"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/protocols"
	"github.com/giovaniif/stock-reservation/use_cases/available"
	"github.com/giovaniif/stock-reservation/use_cases/cleanup"
	"github.com/giovaniif/stock-reservation/use_cases/confirm"
	"github.com/giovaniif/stock-reservation/use_cases/release"
	"github.com/giovaniif/stock-reservation/use_cases/reserve"
	"go.uber.org/zap"
)

type Dependencies struct {
	ReservationRepository reservation.Repository
	Catalog               protocols.Catalog
	UnitOfWork            protocols.UnitOfWork
	Publisher             protocols.EventPublisher
	Clock                 clock.Clock
	Logger                *zap.Logger
	HoldDuration          time.Duration
}

// Engine is the in-process StockGateway: it exposes the reservation operations to the cart and
// checkout workflows.
type Engine struct {
	reservationRepository reservation.Repository
	reserve               *reserve.Reserve
	release               *release.Release
	confirm               *confirm.Confirm
	available             *available.Available
	cleanup               *cleanup.Cleanup
}

var _ protocols.StockGateway = (*Engine)(nil)

func NewEngine(deps Dependencies) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		reservationRepository: deps.ReservationRepository,
		reserve: reserve.NewReserve(deps.ReservationRepository, deps.Catalog, deps.UnitOfWork, deps.Clock, deps.Logger,
			reserve.WithHoldDuration(deps.HoldDuration),
			reserve.WithPublisher(deps.Publisher),
		),
		release:   release.NewRelease(deps.ReservationRepository, deps.Publisher, deps.Clock, deps.Logger),
		confirm:   confirm.NewConfirm(deps.ReservationRepository, deps.Catalog, deps.UnitOfWork, deps.Publisher, deps.Clock, deps.Logger),
		available: available.NewAvailable(deps.ReservationRepository, deps.Catalog, deps.Clock),
		cleanup:   cleanup.NewCleanup(deps.ReservationRepository, deps.Publisher, deps.Clock, deps.Logger),
	}
}

func (e *Engine) ReserveStock(ctx context.Context, productId string, userId string, quantity int, sessionId string) (bool, error) {
	out, err := e.Reserve(ctx, reserve.Input{ProductId: productId, UserId: userId, Quantity: quantity, SessionId: sessionId})
	return out.Reserved, err
}

func (e *Engine) ReleaseReservation(ctx context.Context, productId string, userId string) (bool, error) {
	out, err := e.release.Release(ctx, release.Input{ProductId: productId, UserId: userId})
	return out.Released, err
}

func (e *Engine) ConfirmReservation(ctx context.Context, productId string, userId string, quantity int) (bool, error) {
	out, err := e.confirm.Confirm(ctx, confirm.Input{ProductId: productId, UserId: userId, Quantity: quantity})
	return out.Confirmed, err
}

func (e *Engine) GetAvailableStock(ctx context.Context, productId string) (int, error) {
	return e.available.Available(ctx, productId)
}

func (e *Engine) CleanupExpiredReservations(ctx context.Context) cleanup.Result {
	return e.cleanup.Run(ctx)
}

// Reserve exposes the detailed outcome behind ReserveStock.
func (e *Engine) Reserve(ctx context.Context, input reserve.Input) (reserve.Output, error) {
	return e.reserve.Reserve(ctx, input)
}

func (e *Engine) GetReservation(ctx context.Context, reservationId string) (*reservation.StockReservation, error) {
	if reservationId == "" {
		return nil, reservation.ErrInvalidId
	}
	return e.reservationRepository.Get(ctx, reservationId)
}

// Cleanup is the pass the expiry sweeper runs.
func (e *Engine) Cleanup() *cleanup.Cleanup {
	return e.cleanup
}
