package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestLot(id string, qty int64, created time.Time) lot.Lot {
	return lot.New(id, "producer-1", lot.Draft{
		Product:        "Pane integrale",
		Unit:           lot.UnitPiece,
		QuantityTotal:  decimal.NewFromInt(qty),
		ExpiresAt:      testNow.Add(72 * time.Hour),
		PermanenceDays: 1,
	}, created)
}

// ============================================
// Lot Tests
// ============================================

func TestMemory_CreateAndGetLot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	l := newTestLot("lot-1", 10, testNow)

	require.NoError(t, m.CreateLot(ctx, l))

	got, err := m.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Equal(t, l, got)

	err = m.CreateLot(ctx, l)
	assert.ErrorIs(t, err, ErrStaleWrite)

	_, err = m.GetLot(ctx, "missing")
	assert.ErrorIs(t, err, lot.ErrLotNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_ListLots_OrderAndPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.CreateLot(ctx, newTestLot(id, 5, testNow.Add(time.Duration(i)*time.Minute))))
	}

	all, err := m.ListLots(ctx, lot.Filter{Now: testNow})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	page, err := m.ListLots(ctx, lot.Filter{Now: testNow, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	empty, err := m.ListLots(ctx, lot.Filter{Now: testNow, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemory_SetFreshness_Monotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateLot(ctx, newTestLot("lot-1", 5, testNow)))

	require.NoError(t, m.SetFreshness(ctx, "lot-1", freshness.Red, testNow))
	require.NoError(t, m.SetFreshness(ctx, "lot-1", freshness.Yellow, testNow))

	got, _ := m.GetLot(ctx, "lot-1")
	assert.Equal(t, freshness.Red, got.Freshness)

	err := m.SetFreshness(ctx, "missing", freshness.Red, testNow)
	assert.ErrorIs(t, err, lot.ErrLotNotFound)
}

// ============================================
// Transaction Tests
// ============================================

func TestMemory_RunInTx_CommitsTogether(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateLot(ctx, newTestLot("lot-1", 5, testNow)))

	r := reservation.New("res-1", "lot-1", "actor-1", decimal.NewFromInt(2), "", testNow)
	err := m.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		updated, err := tx.AdjustAvailable(ctx, "lot-1", decimal.NewFromInt(-2), decimal.NewFromInt(5))
		if err != nil {
			return err
		}
		assert.True(t, updated.QuantityAvailable.Equal(decimal.NewFromInt(3)))
		return tx.SaveReservation(ctx, r, 0)
	})
	require.NoError(t, err)

	l, _ := m.GetLot(ctx, "lot-1")
	assert.True(t, l.QuantityAvailable.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 2, l.Version)

	stored, err := m.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, stored.Status)
}

func TestMemory_RunInTx_RollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateLot(ctx, newTestLot("lot-1", 5, testNow)))

	boom := errors.New("boom")
	err := m.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.AdjustAvailable(ctx, "lot-1", decimal.NewFromInt(-2), decimal.NewFromInt(5)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	l, _ := m.GetLot(ctx, "lot-1")
	assert.True(t, l.QuantityAvailable.Equal(decimal.NewFromInt(5)))
}

func TestMemory_AdjustAvailable_Conditions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateLot(ctx, newTestLot("lot-1", 5, testNow)))

	tests := []struct {
		name     string
		lotID    string
		delta    int64
		expected int64
		err      error
	}{
		{"stale expected", "lot-1", -1, 4, ErrStaleWrite},
		{"below zero", "lot-1", -6, 5, ErrOutOfBounds},
		{"above total", "lot-1", 1, 5, ErrOutOfBounds},
		{"missing lot", "missing", -1, 5, lot.ErrLotNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				_, err := tx.AdjustAvailable(ctx, tt.lotID, decimal.NewFromInt(tt.delta), decimal.NewFromInt(tt.expected))
				return err
			})
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMemory_SaveReservation_VersionCheck(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	r := reservation.New("res-1", "lot-1", "actor-1", decimal.NewFromInt(1), "", testNow)

	save := func(r reservation.Reservation, expected int) error {
		return m.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.SaveReservation(ctx, r, expected)
		})
	}

	require.NoError(t, save(r, 0))
	assert.ErrorIs(t, save(r, 0), ErrStaleWrite)

	cancelled, err := r.Transition(reservation.StatusCancelled, testNow)
	require.NoError(t, err)
	require.NoError(t, save(cancelled, 1))
	assert.ErrorIs(t, save(cancelled, 1), ErrStaleWrite)

	ghost := reservation.New("res-x", "lot-1", "actor-1", decimal.NewFromInt(1), "", testNow)
	assert.ErrorIs(t, save(ghost, 1), reservation.ErrReservationNotFound)
}

func TestMemory_ConcurrentAdjustNeverOversells(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateLot(ctx, newTestLot("lot-1", 10, testNow)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				current, err := m.GetLot(ctx, "lot-1")
				if err != nil {
					return
				}
				err = m.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
					_, err := tx.AdjustAvailable(ctx, "lot-1", decimal.NewFromInt(-1), current.QuantityAvailable)
					return err
				})
				if errors.Is(err, ErrStaleWrite) {
					continue
				}
				if err == nil {
					mu.Lock()
					applied++
					mu.Unlock()
				}
				return
			}
		}()
	}
	wg.Wait()

	l, _ := m.GetLot(ctx, "lot-1")
	assert.Equal(t, 10, applied)
	assert.True(t, l.QuantityAvailable.IsZero())
}

// ============================================
// Reservation Listing Tests
// ============================================

func TestMemory_ListReservations_Filters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rs := []reservation.Reservation{
		reservation.New("r1", "lot-1", "actor-1", decimal.NewFromInt(1), "", testNow),
		reservation.New("r2", "lot-2", "actor-1", decimal.NewFromInt(1), "", testNow.Add(time.Minute)),
		reservation.New("r3", "lot-1", "actor-2", decimal.NewFromInt(1), "", testNow.Add(2*time.Minute)),
	}
	require.NoError(t, m.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, r := range rs {
			if err := tx.SaveReservation(ctx, r, 0); err != nil {
				return err
			}
		}
		return nil
	}))

	mine, err := m.ListReservations(ctx, reservation.Filter{ActorID: "actor-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "r2", mine[0].ID)

	byLot, err := m.ListReservations(ctx, reservation.Filter{LotID: "lot-1"})
	require.NoError(t, err)
	assert.Len(t, byLot, 2)

	_, err = m.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, reservation.ErrReservationNotFound)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, paginate(items, 0, 0))
	assert.Equal(t, []int{3, 4}, paginate(items, 2, 2))
	assert.Equal(t, []int{5}, paginate(items, 10, 4))
	assert.Empty(t, paginate(items, 2, 5))
}
