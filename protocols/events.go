package protocols

import (
	"context"
	"time"

	"github.com/giovaniif/stock-reservation/domain/reservation"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationReleased  = "reservation.released"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationExpired   = "reservation.expired"
)

type ReservationEvent struct {
	Type          string              `json:"type"`
	ReservationId string              `json:"reservationId"`
	ProductId     string              `json:"productId"`
	UserId        string              `json:"userId"`
	Quantity      int                 `json:"quantity"`
	Outcome       reservation.Outcome `json:"outcome"`
	OccurredAt    time.Time           `json:"occurredAt"`
}

func NewReservationEvent(eventType string, r reservation.StockReservation, outcome reservation.Outcome, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          eventType,
		ReservationId: r.Id,
		ProductId:     r.ProductId,
		UserId:        r.UserId,
		Quantity:      r.Quantity,
		Outcome:       outcome,
		OccurredAt:    at,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, event ReservationEvent) error
}
