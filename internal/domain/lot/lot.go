package lot

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/shopspring/decimal"
)

const AggregateType = "Lot"

// MaxScale is the number of fractional digits a quantity may carry.
const MaxScale = 3

// PriceScale is the number of fractional digits a price may carry.
const PriceScale = 2

var (
	ErrLotNotFound          = fmt.Errorf("%w: lot not found", domain.ErrNotFound)
	ErrInvalidQuantity      = fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	ErrFractionalQuantity   = fmt.Errorf("%w: quantity must be a whole number for this unit", domain.ErrValidation)
	ErrQuantityScale        = fmt.Errorf("%w: quantity has too many decimal places", domain.ErrValidation)
	ErrExpiryInPast         = fmt.Errorf("%w: expiry date is in the past", domain.ErrValidation)
	ErrInvalidProduct       = fmt.Errorf("%w: product is required", domain.ErrValidation)
	ErrInvalidUnit          = fmt.Errorf("%w: unknown unit of measure", domain.ErrValidation)
	ErrInvalidPrice         = fmt.Errorf("%w: price cannot be negative", domain.ErrValidation)
	ErrPriceScale           = fmt.Errorf("%w: price has too many decimal places", domain.ErrValidation)
	ErrInvalidPermanence    = fmt.Errorf("%w: permanence days cannot be negative", domain.ErrValidation)
	ErrLotExpired           = fmt.Errorf("%w: lot is expired", domain.ErrConflict)
	ErrInsufficientQuantity = fmt.Errorf("%w: insufficient remaining quantity", domain.ErrConflict)
)

// Unit is a unit of measure. Discrete units only accept whole quantities.
type Unit string

const (
	UnitPiece    Unit = "pz"
	UnitPack     Unit = "conf"
	UnitKilogram Unit = "kg"
	UnitLiter    Unit = "l"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitPiece, UnitPack, UnitKilogram, UnitLiter:
		return true
	}
	return false
}

func (u Unit) Discrete() bool {
	return u == UnitPiece || u == UnitPack
}

// ValidateQuantity checks that q is a usable positive amount of unit u.
func (u Unit) ValidateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return ErrInvalidQuantity
	}
	if u.Discrete() && !q.Equal(q.Truncate(0)) {
		return ErrFractionalQuantity
	}
	if !q.Equal(q.Truncate(MaxScale)) {
		return ErrQuantityScale
	}
	return nil
}

type Lot struct {
	ID                string          `json:"id"`
	Product           string          `json:"prodotto"`
	Unit              Unit            `json:"unita_misura"`
	QuantityTotal     decimal.Decimal `json:"quantita_totale"`
	QuantityAvailable decimal.Decimal `json:"quantita_disponibile"`
	ExpiresAt         time.Time       `json:"data_scadenza"`
	PermanenceDays    int             `json:"giorni_permanenza"`
	Price             decimal.Decimal `json:"prezzo"`
	OwnerID           string          `json:"produttore_id"`
	Freshness         freshness.State `json:"stato"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Reserved is the quantity currently held by active reservations.
func (l *Lot) Reserved() decimal.Decimal {
	return l.QuantityTotal.Sub(l.QuantityAvailable)
}

// FreshnessAt returns the lot's state at now, never earlier than the stored state.
func (l *Lot) FreshnessAt(now time.Time) freshness.State {
	return freshness.Max(l.Freshness, freshness.Classify(l.ExpiresAt, l.PermanenceDays, now))
}

// CanAdjust reports whether applying delta keeps 0 <= available <= total.
func (l *Lot) CanAdjust(delta decimal.Decimal) bool {
	next := l.QuantityAvailable.Add(delta)
	return !next.IsNegative() && next.LessThanOrEqual(l.QuantityTotal)
}

// Draft is the producer-supplied part of a new lot.
type Draft struct {
	Product        string          `json:"prodotto"`
	Unit           Unit            `json:"unita_misura"`
	QuantityTotal  decimal.Decimal `json:"quantita_totale"`
	ExpiresAt      time.Time       `json:"data_scadenza"`
	PermanenceDays int             `json:"giorni_permanenza"`
	Price          decimal.Decimal `json:"prezzo"`
}

func (d Draft) Validate(now time.Time) error {
	if strings.TrimSpace(d.Product) == "" {
		return ErrInvalidProduct
	}
	if !d.Unit.Valid() {
		return ErrInvalidUnit
	}
	if err := d.Unit.ValidateQuantity(d.QuantityTotal); err != nil {
		return err
	}
	if d.PermanenceDays < 0 {
		return ErrInvalidPermanence
	}
	if d.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if !d.Price.Equal(d.Price.Truncate(PriceScale)) {
		return ErrPriceScale
	}
	if !d.ExpiresAt.After(now) {
		return ErrExpiryInPast
	}
	return nil
}

// New builds a lot from a validated draft with all of its quantity available.
func New(id, ownerID string, d Draft, now time.Time) Lot {
	return Lot{
		ID:                id,
		Product:           strings.TrimSpace(d.Product),
		Unit:              d.Unit,
		QuantityTotal:     d.QuantityTotal,
		QuantityAvailable: d.QuantityTotal,
		ExpiresAt:         d.ExpiresAt.UTC(),
		PermanenceDays:    d.PermanenceDays,
		Price:             d.Price,
		OwnerID:           ownerID,
		Freshness:         freshness.Classify(d.ExpiresAt, d.PermanenceDays, now),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Filter selects lots for listing. A nil Freshness matches every state.
type Filter struct {
	Freshness *freshness.State
	Product   string
	OwnerID   string
	Now       time.Time
	Limit     int
	Offset    int
}

// Matches applies the filter in memory. Product matching is a case-insensitive substring.
func (f Filter) Matches(l *Lot) bool {
	if f.OwnerID != "" && l.OwnerID != f.OwnerID {
		return false
	}
	if f.Product != "" && !strings.Contains(strings.ToLower(l.Product), strings.ToLower(f.Product)) {
		return false
	}
	if f.Freshness != nil && l.FreshnessAt(f.Now) != *f.Freshness {
		return false
	}
	return true
}
