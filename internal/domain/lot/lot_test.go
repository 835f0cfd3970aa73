package lot

import (
	"testing"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func validDraft() Draft {
	return Draft{
		Product:        "Pane integrale",
		Unit:           UnitPiece,
		QuantityTotal:  decimal.NewFromInt(5),
		ExpiresAt:      now.Add(72 * time.Hour),
		PermanenceDays: 1,
		Price:          decimal.RequireFromString("2.50"),
	}
}

// ============================================
// Draft Validation Tests
// ============================================

func TestDraft_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Draft)
		err    error
	}{
		{"valid", func(d *Draft) {}, nil},
		{"empty product", func(d *Draft) { d.Product = "  " }, ErrInvalidProduct},
		{"unknown unit", func(d *Draft) { d.Unit = "ton" }, ErrInvalidUnit},
		{"zero quantity", func(d *Draft) { d.QuantityTotal = decimal.Zero }, ErrInvalidQuantity},
		{"negative quantity", func(d *Draft) { d.QuantityTotal = decimal.NewFromInt(-3) }, ErrInvalidQuantity},
		{"fractional pieces", func(d *Draft) { d.QuantityTotal = decimal.RequireFromString("1.5") }, ErrFractionalQuantity},
		{"fractional kilograms", func(d *Draft) {
			d.Unit = UnitKilogram
			d.QuantityTotal = decimal.RequireFromString("1.5")
		}, nil},
		{"too precise", func(d *Draft) {
			d.Unit = UnitLiter
			d.QuantityTotal = decimal.RequireFromString("0.0001")
		}, ErrQuantityScale},
		{"negative permanence", func(d *Draft) { d.PermanenceDays = -1 }, ErrInvalidPermanence},
		{"negative price", func(d *Draft) { d.Price = decimal.NewFromInt(-1) }, ErrInvalidPrice},
		{"sub-cent price", func(d *Draft) { d.Price = decimal.RequireFromString("1.999") }, ErrPriceScale},
		{"expiry in past", func(d *Draft) { d.ExpiresAt = now.Add(-time.Hour) }, ErrExpiryInPast},
		{"expiry now", func(d *Draft) { d.ExpiresAt = now }, ErrExpiryInPast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(&d)
			err := d.Validate(now)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

// ============================================
// Lot Tests
// ============================================

func TestNew_AllQuantityAvailable(t *testing.T) {
	l := New("lot-1", "producer-1", validDraft(), now)

	assert.Equal(t, "lot-1", l.ID)
	assert.Equal(t, "producer-1", l.OwnerID)
	assert.True(t, l.QuantityAvailable.Equal(l.QuantityTotal))
	assert.True(t, l.Reserved().IsZero())
	assert.Equal(t, freshness.Green, l.Freshness)
	assert.Equal(t, 1, l.Version)
}

func TestLot_CanAdjust(t *testing.T) {
	l := New("lot-1", "producer-1", validDraft(), now)
	l.QuantityAvailable = decimal.NewFromInt(2)

	assert.True(t, l.CanAdjust(decimal.NewFromInt(-2)))
	assert.False(t, l.CanAdjust(decimal.NewFromInt(-3)))
	assert.True(t, l.CanAdjust(decimal.NewFromInt(3)))
	assert.False(t, l.CanAdjust(decimal.NewFromInt(4)))
}

func TestLot_FreshnessAtNeverRegresses(t *testing.T) {
	l := New("lot-1", "producer-1", validDraft(), now)
	l.Freshness = freshness.Red

	assert.Equal(t, freshness.Red, l.FreshnessAt(now))
	assert.Equal(t, freshness.Expired, l.FreshnessAt(l.ExpiresAt.Add(freshness.RedGrace)))
}

func TestFilter_Matches(t *testing.T) {
	l := New("lot-1", "producer-1", validDraft(), now)
	green := freshness.Green
	red := freshness.Red

	assert.True(t, Filter{Now: now}.Matches(&l))
	assert.True(t, Filter{Product: "INTEGRALE", Now: now}.Matches(&l))
	assert.False(t, Filter{Product: "latte", Now: now}.Matches(&l))
	assert.True(t, Filter{OwnerID: "producer-1", Now: now}.Matches(&l))
	assert.False(t, Filter{OwnerID: "producer-2", Now: now}.Matches(&l))
	assert.True(t, Filter{Freshness: &green, Now: now}.Matches(&l))
	assert.False(t, Filter{Freshness: &red, Now: now}.Matches(&l))
}
