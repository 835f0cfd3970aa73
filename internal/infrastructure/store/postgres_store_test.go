package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

var lotColumnNames = []string{
	"id", "product", "unit", "quantity_total", "quantity_available", "expires_at",
	"permanence_days", "price", "owner_id", "freshness", "version", "created_at", "updated_at",
}

func lotRow(l lot.Lot) *sqlmock.Rows {
	return sqlmock.NewRows(lotColumnNames).AddRow(
		l.ID, l.Product, string(l.Unit), l.QuantityTotal.String(), l.QuantityAvailable.String(), l.ExpiresAt,
		l.PermanenceDays, l.Price.String(), l.OwnerID, int64(l.Freshness), int64(l.Version), l.CreatedAt, l.UpdatedAt,
	)
}

// ============================================
// Lot Tests
// ============================================

func TestPostgres_GetLot(t *testing.T) {
	s, mock := newMockPostgres(t)
	l := newTestLot("lot-1", 10, testNow)

	mock.ExpectQuery(regexp.QuoteMeta("FROM lots WHERE id = $1")).
		WithArgs("lot-1").
		WillReturnRows(lotRow(l))

	got, err := s.GetLot(context.Background(), "lot-1")
	require.NoError(t, err)
	assert.Equal(t, "lot-1", got.ID)
	assert.Equal(t, lot.UnitPiece, got.Unit)
	assert.True(t, got.QuantityAvailable.Equal(decimal.NewFromInt(10)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetLot_NotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM lots WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetLot(context.Background(), "missing")
	assert.ErrorIs(t, err, lot.ErrLotNotFound)
}

func TestPostgres_CreateLot_Duplicate(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lots")).
		WillReturnError(&pq.Error{Code: pgUniqueViolation})

	err := s.CreateLot(context.Background(), newTestLot("lot-1", 10, testNow))
	assert.ErrorIs(t, err, ErrStaleWrite)
}

func TestPostgres_ListLots_FreshnessFilter(t *testing.T) {
	s, mock := newMockPostgres(t)
	state := freshness.Yellow

	mock.ExpectQuery("(?s)SELECT .* FROM lots WHERE owner_id = \\$1 AND GREATEST\\(freshness, CASE .* = \\$3 ORDER BY created_at DESC, id DESC LIMIT \\$4").
		WithArgs("producer-1", testNow, int(freshness.Yellow), 20).
		WillReturnRows(lotRow(newTestLot("lot-1", 10, testNow)))

	lots, err := s.ListLots(context.Background(), lot.Filter{
		OwnerID:   "producer-1",
		Freshness: &state,
		Now:       testNow,
		Limit:     20,
	})
	require.NoError(t, err)
	assert.Len(t, lots, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetFreshness_MissingLot(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE lots SET freshness")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.SetFreshness(context.Background(), "missing", freshness.Red, testNow)
	assert.ErrorIs(t, err, lot.ErrLotNotFound)
}

// ============================================
// Transaction Tests
// ============================================

func TestPostgres_RunInTx_ReserveCommits(t *testing.T) {
	s, mock := newMockPostgres(t)
	after := newTestLot("lot-1", 10, testNow)
	after.QuantityAvailable = decimal.NewFromInt(8)
	after.Version = 2

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE lots")).
		WithArgs("lot-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(lotRow(after))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := reservation.New("res-1", "lot-1", "actor-1", decimal.NewFromInt(2), "", testNow)
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		updated, err := tx.AdjustAvailable(ctx, "lot-1", decimal.NewFromInt(-2), decimal.NewFromInt(10))
		if err != nil {
			return err
		}
		assert.True(t, updated.QuantityAvailable.Equal(decimal.NewFromInt(8)))
		return tx.SaveReservation(ctx, r, 0)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AdjustAvailable_Misses(t *testing.T) {
	tests := []struct {
		name      string
		available string
		err       error
	}{
		{"value moved", "7", ErrStaleWrite},
		{"bounds", "10", ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgres(t)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("UPDATE lots")).
				WillReturnRows(sqlmock.NewRows(lotColumnNames))
			mock.ExpectQuery(regexp.QuoteMeta("SELECT quantity_available FROM lots")).
				WithArgs("lot-1").
				WillReturnRows(sqlmock.NewRows([]string{"quantity_available"}).AddRow(tt.available))
			mock.ExpectRollback()

			err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
				_, err := tx.AdjustAvailable(ctx, "lot-1", decimal.NewFromInt(-20), decimal.NewFromInt(10))
				return err
			})
			assert.ErrorIs(t, err, tt.err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_SaveReservation_StaleVersion(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM reservations")).
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	r := reservation.New("res-1", "lot-1", "actor-1", decimal.NewFromInt(2), "", testNow)
	cancelled, err := r.Transition(reservation.StatusCancelled, testNow)
	require.NoError(t, err)

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveReservation(ctx, cancelled, 1)
	})
	assert.ErrorIs(t, err, ErrStaleWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveReservation_MissingLot(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
		WillReturnError(&pq.Error{Code: pgForeignKeyViolation})
	mock.ExpectRollback()

	r := reservation.New("res-1", "lot-x", "actor-1", decimal.NewFromInt(2), "", testNow)
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveReservation(ctx, r, 0)
	})
	assert.ErrorIs(t, err, lot.ErrLotNotFound)
}
