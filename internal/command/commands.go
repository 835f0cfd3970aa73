package command

import (
	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/shopspring/decimal"
)

// Lot Commands
type CreateLot struct {
	Actor domain.Actor `json:"-"`
	lot.Draft
}

// Reservation Commands
type CreateReservation struct {
	Actor    domain.Actor    `json:"-"`
	LotID    string          `json:"lotto_id"`
	Quantity decimal.Decimal `json:"quantita"`
	Note     string          `json:"note"`
}

type UpdateReservation struct {
	Actor         domain.Actor    `json:"-"`
	ReservationID string          `json:"-"`
	Quantity      decimal.Decimal `json:"quantita"`
	// Note replaces the stored note when present.
	Note *string `json:"note"`
}

type CancelReservation struct {
	Actor         domain.Actor `json:"-"`
	ReservationID string       `json:"-"`
}
