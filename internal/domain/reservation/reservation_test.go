package reservation

import (
	"testing"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newConfirmed() Reservation {
	return New("res-1", "lot-1", "actor-1", decimal.NewFromInt(2), "  ritiro alle 18  ", now)
}

func TestNew_Confirmed(t *testing.T) {
	r := newConfirmed()

	assert.Equal(t, StatusConfirmed, r.Status)
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, "ritiro alle 18", r.Note)
	assert.True(t, r.Status.Active())
}

// ============================================
// Transition Tests
// ============================================

func TestReservation_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     Status
		to       Status
		expected bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusExpired, false},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusExpired, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusExpired, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			r := Reservation{Status: tt.from}
			assert.Equal(t, tt.expected, r.CanTransitionTo(tt.to))
		})
	}
}

func TestReservation_Transition(t *testing.T) {
	r := newConfirmed()
	later := now.Add(time.Hour)

	cancelled, err := r.Transition(StatusCancelled, later)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 2, cancelled.Version)
	assert.Equal(t, later, cancelled.UpdatedAt)
	assert.Equal(t, StatusConfirmed, r.Status, "original must be untouched")

	_, err = cancelled.Transition(StatusExpired, later)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusExpired.Terminal())
}

func TestReservation_Resize(t *testing.T) {
	r := newConfirmed()
	note := "nuova nota"

	resized, err := r.Resize(decimal.NewFromInt(3), &note, now)
	require.NoError(t, err)
	assert.True(t, resized.Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "nuova nota", resized.Note)
	assert.Equal(t, 2, resized.Version)

	kept, err := r.Resize(decimal.NewFromInt(1), nil, now)
	require.NoError(t, err)
	assert.Equal(t, "ritiro alle 18", kept.Note)

	cancelled, _ := r.Transition(StatusCancelled, now)
	_, err = cancelled.Resize(decimal.NewFromInt(1), nil, now)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Confermata")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, s)

	_, err = ParseStatus("boh")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEventForStatus(t *testing.T) {
	assert.Equal(t, EventReservationCreated, EventForStatus(StatusConfirmed))
	assert.Equal(t, EventReservationCancelled, EventForStatus(StatusCancelled))
	assert.Equal(t, EventReservationExpired, EventForStatus(StatusExpired))
	assert.Equal(t, EventReservationCompleted, EventForStatus(StatusCompleted))
	assert.Empty(t, EventForStatus(StatusPending))
}
