package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/shopspring/decimal"
)

// ErrStaleWrite is returned when a conditional write finds the record changed since it was read.
// Callers re-read and retry.
var ErrStaleWrite = fmt.Errorf("%w: record changed since it was read", domain.ErrConflict)

// ErrOutOfBounds is returned when an adjustment would push available quantity below zero
// or above the lot total.
var ErrOutOfBounds = fmt.Errorf("%w: adjustment outside lot bounds", domain.ErrConflict)

// Tx is the set of conditional writes that must commit together.
type Tx interface {
	// AdjustAvailable applies delta to the lot's available quantity only if it still
	// equals expected. Returns ErrStaleWrite otherwise.
	AdjustAvailable(ctx context.Context, lotID string, delta, expected decimal.Decimal) (lot.Lot, error)

	// SaveReservation inserts r when expectedVersion is 0, otherwise replaces the stored
	// reservation only if its version still equals expectedVersion.
	SaveReservation(ctx context.Context, r reservation.Reservation, expectedVersion int) error
}

// Store is the durable record of lots and reservations.
type Store interface {
	CreateLot(ctx context.Context, l lot.Lot) error
	GetLot(ctx context.Context, id string) (lot.Lot, error)
	ListLots(ctx context.Context, f lot.Filter) ([]lot.Lot, error)

	// SetFreshness stores a recomputed freshness state. It never moves the state backwards.
	SetFreshness(ctx context.Context, lotID string, state freshness.State, at time.Time) error

	GetReservation(ctx context.Context, id string) (reservation.Reservation, error)
	ListReservations(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error)

	// RunInTx runs fn in a single transaction. Nothing fn wrote is visible unless it returns nil.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
