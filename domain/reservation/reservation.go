package reservation

import "time"

type Outcome string

const (
	OutcomeActive    Outcome = "active"
	OutcomeReleased  Outcome = "released"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeExpired   Outcome = "expired"
)

const DefaultHoldDuration = 15 * time.Minute

// StockReservation is a time-bounded hold on a quantity of a product's stock.
// Once IsActive is false the record is terminal.
type StockReservation struct {
	Id        string
	ProductId string
	UserId    string
	Quantity  int
	SessionId string
	ExpiresAt time.Time
	IsActive  bool
	Outcome   Outcome
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLive reports whether the hold still counts against available stock at now.
func (r StockReservation) IsLive(now time.Time) bool {
	return r.IsActive && r.ExpiresAt.After(now)
}

// IsOverdue reports whether the hold is still flagged active but its deadline has passed.
func (r StockReservation) IsOverdue(now time.Time) bool {
	return r.IsActive && !r.ExpiresAt.After(now)
}

// Available derives the sellable quantity from on-hand stock and the live holds of a product.
func Available(onHand int, holds []StockReservation, now time.Time) int {
	held := 0
	for _, h := range holds {
		if h.IsLive(now) {
			held += h.Quantity
		}
	}
	available := onHand - held
	if available < 0 {
		return 0
	}
	return available
}
