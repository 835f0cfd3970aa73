package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. Transactions are staged and applied on commit
// under the store mutex, so a conditional write is checked against committed state.
type Memory struct {
	mu           sync.RWMutex
	lots         map[string]lot.Lot
	reservations map[string]reservation.Reservation
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		lots:         make(map[string]lot.Lot),
		reservations: make(map[string]reservation.Reservation),
	}
}

func (m *Memory) CreateLot(ctx context.Context, l lot.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.lots[l.ID]; exists {
		return ErrStaleWrite
	}
	m.lots[l.ID] = l
	return nil
}

func (m *Memory) GetLot(ctx context.Context, id string) (lot.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.lots[id]
	if !ok {
		return lot.Lot{}, lot.ErrLotNotFound
	}
	return l, nil
}

// ListLots returns matching lots, newest first
func (m *Memory) ListLots(ctx context.Context, f lot.Filter) ([]lot.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]lot.Lot, 0, len(m.lots))
	for _, l := range m.lots {
		if f.Matches(&l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func (m *Memory) SetFreshness(ctx context.Context, lotID string, state freshness.State, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lots[lotID]
	if !ok {
		return lot.ErrLotNotFound
	}
	if state <= l.Freshness {
		return nil
	}
	l.Freshness = state
	l.UpdatedAt = at
	m.lots[lotID] = l
	return nil
}

func (m *Memory) GetReservation(ctx context.Context, id string) (reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return reservation.Reservation{}, reservation.ErrReservationNotFound
	}
	return r, nil
}

// ListReservations returns matching reservations, newest first
func (m *Memory) ListReservations(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]reservation.Reservation, 0)
	for _, r := range m.reservations {
		if f.Matches(&r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// RunInTx holds the store mutex while fn runs. fn must only talk to tx.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		m:            m,
		lots:         make(map[string]lot.Lot),
		reservations: make(map[string]reservation.Reservation),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, l := range tx.lots {
		m.lots[id] = l
	}
	for id, r := range tx.reservations {
		m.reservations[id] = r
	}
	return nil
}

type memoryTx struct {
	m            *Memory
	lots         map[string]lot.Lot
	reservations map[string]reservation.Reservation
}

func (tx *memoryTx) lot(id string) (lot.Lot, bool) {
	if l, ok := tx.lots[id]; ok {
		return l, true
	}
	l, ok := tx.m.lots[id]
	return l, ok
}

func (tx *memoryTx) reservation(id string) (reservation.Reservation, bool) {
	if r, ok := tx.reservations[id]; ok {
		return r, true
	}
	r, ok := tx.m.reservations[id]
	return r, ok
}

func (tx *memoryTx) AdjustAvailable(ctx context.Context, lotID string, delta, expected decimal.Decimal) (lot.Lot, error) {
	l, ok := tx.lot(lotID)
	if !ok {
		return lot.Lot{}, lot.ErrLotNotFound
	}
	if !l.QuantityAvailable.Equal(expected) {
		return lot.Lot{}, ErrStaleWrite
	}
	if !l.CanAdjust(delta) {
		return lot.Lot{}, ErrOutOfBounds
	}

	l.QuantityAvailable = l.QuantityAvailable.Add(delta)
	l.Version++
	l.UpdatedAt = time.Now().UTC()
	tx.lots[lotID] = l
	return l, nil
}

func (tx *memoryTx) SaveReservation(ctx context.Context, r reservation.Reservation, expectedVersion int) error {
	current, exists := tx.reservation(r.ID)
	switch {
	case expectedVersion == 0 && exists:
		return ErrStaleWrite
	case expectedVersion != 0 && !exists:
		return reservation.ErrReservationNotFound
	case expectedVersion != 0 && current.Version != expectedVersion:
		return ErrStaleWrite
	}
	tx.reservations[r.ID] = r
	return nil
}
