package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/example/foodlots/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

// MockStore wraps the in-memory store and records conditional writes for testing
type MockStore struct {
	*store.Memory

	mu sync.Mutex

	// For tracking calls in tests
	AdjustCalls []AdjustCall
	SaveCalls   []SaveCall
	FreshCalls  []FreshnessCall

	// AdjustErr is returned from the next AdjustErrTimes adjustments (every one when 0).
	AdjustErr      error
	AdjustErrTimes int
	// AdjustCallback, when set, replaces the adjustment entirely
	AdjustCallback func(ctx context.Context, lotID string, delta, expected decimal.Decimal) (lot.Lot, error)
	SaveErr        error
	ListErr        error
}

// AdjustCall records parameters passed to AdjustAvailable
type AdjustCall struct {
	LotID    string
	Delta    decimal.Decimal
	Expected decimal.Decimal
}

// SaveCall records parameters passed to SaveReservation
type SaveCall struct {
	Reservation     reservation.Reservation
	ExpectedVersion int
}

// FreshnessCall records parameters passed to SetFreshness
type FreshnessCall struct {
	LotID string
	State freshness.State
}

var _ store.Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore over an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{Memory: store.NewMemory()}
}

// AddLot stores a lot directly for testing
func (m *MockStore) AddLot(l lot.Lot) {
	_ = m.Memory.CreateLot(context.Background(), l)
}

// AddReservation stores a reservation directly for testing
func (m *MockStore) AddReservation(r reservation.Reservation) {
	_ = m.Memory.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.SaveReservation(ctx, r, 0)
	})
}

func (m *MockStore) ListLots(ctx context.Context, f lot.Filter) ([]lot.Lot, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Memory.ListLots(ctx, f)
}

func (m *MockStore) ListReservations(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Memory.ListReservations(ctx, f)
}

func (m *MockStore) SetFreshness(ctx context.Context, lotID string, state freshness.State, at time.Time) error {
	m.mu.Lock()
	m.FreshCalls = append(m.FreshCalls, FreshnessCall{LotID: lotID, State: state})
	m.mu.Unlock()
	return m.Memory.SetFreshness(ctx, lotID, state, at)
}

// RunInTx wraps the memory transaction so adjustments and saves are recorded
func (m *MockStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return m.Memory.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &mockTx{m: m, tx: tx})
	})
}

// Reset clears recorded calls and injected errors
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AdjustCalls = nil
	m.SaveCalls = nil
	m.FreshCalls = nil
	m.AdjustErr = nil
	m.AdjustErrTimes = 0
	m.AdjustCallback = nil
	m.SaveErr = nil
	m.ListErr = nil
}

// Calls returns a copy of the recorded adjustments
func (m *MockStore) Calls() []AdjustCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AdjustCall(nil), m.AdjustCalls...)
}

type mockTx struct {
	m  *MockStore
	tx store.Tx
}

func (t *mockTx) AdjustAvailable(ctx context.Context, lotID string, delta, expected decimal.Decimal) (lot.Lot, error) {
	t.m.mu.Lock()
	t.m.AdjustCalls = append(t.m.AdjustCalls, AdjustCall{LotID: lotID, Delta: delta, Expected: expected})
	callback := t.m.AdjustCallback
	var injected error
	if t.m.AdjustErr != nil {
		injected = t.m.AdjustErr
		if t.m.AdjustErrTimes > 0 {
			t.m.AdjustErrTimes--
			if t.m.AdjustErrTimes == 0 {
				t.m.AdjustErr = nil
			}
		}
	}
	t.m.mu.Unlock()

	if callback != nil {
		return callback(ctx, lotID, delta, expected)
	}
	if injected != nil {
		return lot.Lot{}, injected
	}
	return t.tx.AdjustAvailable(ctx, lotID, delta, expected)
}

func (t *mockTx) SaveReservation(ctx context.Context, r reservation.Reservation, expectedVersion int) error {
	t.m.mu.Lock()
	t.m.SaveCalls = append(t.m.SaveCalls, SaveCall{Reservation: r, ExpectedVersion: expectedVersion})
	saveErr := t.m.SaveErr
	t.m.mu.Unlock()

	if saveErr != nil {
		return saveErr
	}
	return t.tx.SaveReservation(ctx, r, expectedVersion)
}
