package available

import (
	"context"
	"fmt"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/protocols"
)

type Available struct {
	reservationRepository reservation.Repository
	catalog               protocols.Catalog
	clock                 clock.Clock
}

func NewAvailable(reservationRepository reservation.Repository, catalog protocols.Catalog, clk clock.Clock) *Available {
	return &Available{
		reservationRepository: reservationRepository,
		catalog:               catalog,
		clock:                 clk,
	}
}

// Available is recomputed from the catalog and the store on every call.
func (a *Available) Available(ctx context.Context, productId string) (int, error) {
	if productId == "" {
		return 0, reservation.ErrInvalidId
	}
	onHand, err := a.catalog.OnHandStock(ctx, productId)
	if err != nil {
		return 0, err
	}
	holds, err := a.reservationRepository.ActiveForProduct(ctx, productId)
	if err != nil {
		return 0, fmt.Errorf("available: %w", err)
	}
	return reservation.Available(onHand, holds, a.clock.Now()), nil
}
