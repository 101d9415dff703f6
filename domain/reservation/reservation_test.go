package reservation

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAvailable(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no holds returns on-hand stock", func(t *testing.T) {
		if got := Available(10, nil, now); got != 10 {
			t.Fatalf("expected 10, got %d", got)
		}
	})

	t.Run("subtracts only live holds", func(t *testing.T) {
		holds := []StockReservation{
			{Quantity: 4, IsActive: true, ExpiresAt: now.Add(time.Minute)},
			{Quantity: 3, IsActive: false, ExpiresAt: now.Add(time.Minute)},
			{Quantity: 2, IsActive: true, ExpiresAt: now},
			{Quantity: 1, IsActive: true, ExpiresAt: now.Add(-time.Minute)},
		}
		if got := Available(10, holds, now); got != 6 {
			t.Fatalf("expected 6, got %d", got)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		holds := []StockReservation{
			{Quantity: 8, IsActive: true, ExpiresAt: now.Add(time.Minute)},
		}
		if got := Available(5, holds, now); got != 0 {
			t.Fatalf("expected 0, got %d", got)
		}
	})
}

func TestStockReservationLiveness(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := StockReservation{IsActive: true, ExpiresAt: now.Add(time.Second)}

	if !r.IsLive(now) || r.IsOverdue(now) {
		t.Fatalf("expected hold to be live before its deadline")
	}
	if r.IsLive(r.ExpiresAt) || !r.IsOverdue(r.ExpiresAt) {
		t.Fatalf("expected hold to be overdue at its deadline")
	}

	r.IsActive = false
	if r.IsLive(now) || r.IsOverdue(r.ExpiresAt) {
		t.Fatalf("expected inactive hold to be neither live nor overdue")
	}
}

func TestErrorCodes(t *testing.T) {
	for _, err := range []error{ErrInvalidQuantity, ErrInvalidId, ErrInsufficientStock, ErrProductNotFound, ErrReservationNotFound, ErrQuantityMismatch} {
		code := Code(fmt.Errorf("wrapped: %w", err))
		if code == "" {
			t.Fatalf("expected a code for %v", err)
		}
		if FromCode(code) != err {
			t.Fatalf("expected %q to map back to %v", code, err)
		}
	}
	if Code(errors.New("other")) != "" || FromCode("other") != nil {
		t.Fatalf("expected unknown errors and codes to map to zero values")
	}
}
