package reservation

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationUpdated   = "ReservationUpdated"
	EventReservationCancelled = "ReservationCancelled"
	EventReservationExpired   = "ReservationExpired"
	EventReservationCompleted = "ReservationCompleted"
)

// EventForStatus returns the lifecycle event emitted when a reservation enters s.
func EventForStatus(s Status) string {
	switch s {
	case StatusConfirmed:
		return EventReservationCreated
	case StatusCancelled:
		return EventReservationCancelled
	case StatusExpired:
		return EventReservationExpired
	case StatusCompleted:
		return EventReservationCompleted
	}
	return ""
}

// LifecycleEvent is the payload of every reservation event.
type LifecycleEvent struct {
	ReservationID string          `json:"reservation_id"`
	LotID         string          `json:"lot_id"`
	ActorID       string          `json:"actor_id"`
	ActorEmail    string          `json:"actor_email,omitempty"`
	Product       string          `json:"product,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        Status          `json:"status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
