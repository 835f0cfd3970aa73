package query

import (
	"context"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/example/foodlots/internal/infrastructure/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Handler serves snapshot reads. Lots come back with freshness recomputed at read time.
type Handler struct {
	store store.Store
	now   func() time.Time
}

func NewHandler(s store.Store) *Handler {
	return &Handler{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the read-time clock.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Lots
func (h *Handler) GetLot(ctx context.Context, id string) (*lot.Lot, error) {
	l, err := h.store.GetLot(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Freshness = l.FreshnessAt(h.now())
	return &l, nil
}

func (h *Handler) ListLots(ctx context.Context, f lot.Filter) ([]lot.Lot, error) {
	now := h.now()
	f.Now = now
	f.Limit = clampLimit(f.Limit)

	lots, err := h.store.ListLots(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range lots {
		lots[i].Freshness = lots[i].FreshnessAt(now)
	}
	return lots, nil
}

// Reservations

// GetReservation is visible to the reserving actor, the lot's producer and admins.
func (h *Handler) GetReservation(ctx context.Context, id string, actor domain.Actor) (*reservation.Reservation, error) {
	r, err := h.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.ActorID == actor.ID || actor.IsAdmin() {
		return &r, nil
	}

	l, err := h.store.GetLot(ctx, r.LotID)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != actor.ID {
		return nil, reservation.ErrNotOwner
	}
	return &r, nil
}

// ListReservations is scoped to the caller unless the caller is an admin.
func (h *Handler) ListReservations(ctx context.Context, actor domain.Actor, f reservation.Filter) ([]reservation.Reservation, error) {
	if !actor.IsAdmin() {
		f.ActorID = actor.ID
	}
	f.Limit = clampLimit(f.Limit)
	return h.store.ListReservations(ctx, f)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
