package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/google/uuid"
)

type MemoryReservationRepository struct {
	mu           sync.RWMutex
	clock        clock.Clock
	reservations map[string]*reservation.StockReservation
}

func NewMemoryReservationRepository(clk clock.Clock) *MemoryReservationRepository {
	return &MemoryReservationRepository{
		clock:        clk,
		reservations: make(map[string]*reservation.StockReservation),
	}
}

func (r *MemoryReservationRepository) Create(ctx context.Context, input reservation.CreateInput) (reservation.StockReservation, error) {
	if input.Quantity <= 0 {
		return reservation.StockReservation{}, reservation.ErrInvalidQuantity
	}
	now := r.clock.Now()
	created := reservation.StockReservation{
		Id:        uuid.NewString(),
		ProductId: input.ProductId,
		UserId:    input.UserId,
		Quantity:  input.Quantity,
		SessionId: input.SessionId,
		ExpiresAt: now.Add(input.Duration),
		IsActive:  true,
		Outcome:   reservation.OutcomeActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	stored := created
	r.reservations[created.Id] = &stored
	r.mu.Unlock()

	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.reservations, created.Id)
		r.mu.Unlock()
	})
	return created, nil
}

func (r *MemoryReservationRepository) Get(_ context.Context, reservationId string) (*reservation.StockReservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, ok := r.reservations[reservationId]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	out := *found
	return &out, nil
}

func (r *MemoryReservationRepository) Deactivate(_ context.Context, reservationId string, outcome reservation.Outcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found, ok := r.reservations[reservationId]
	if !ok || !found.IsActive {
		return false, nil
	}
	found.IsActive = false
	found.Outcome = outcome
	found.UpdatedAt = r.clock.Now()
	return true, nil
}

func (r *MemoryReservationRepository) ActiveForProduct(_ context.Context, productId string) ([]reservation.StockReservation, error) {
	now := r.clock.Now()
	return r.filter(func(res *reservation.StockReservation) bool {
		return res.ProductId == productId && res.IsLive(now)
	}), nil
}

func (r *MemoryReservationRepository) ActiveForUser(_ context.Context, userId string) ([]reservation.StockReservation, error) {
	return r.filter(func(res *reservation.StockReservation) bool {
		return res.UserId == userId && res.IsActive
	}), nil
}

func (r *MemoryReservationRepository) ExpiredButActive(_ context.Context) ([]reservation.StockReservation, error) {
	now := r.clock.Now()
	return r.filter(func(res *reservation.StockReservation) bool {
		return res.IsOverdue(now)
	}), nil
}

func (r *MemoryReservationRepository) filter(keep func(*reservation.StockReservation) bool) []reservation.StockReservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []reservation.StockReservation
	for _, res := range r.reservations {
		if keep(res) {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
