package reservation

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/shopspring/decimal"
)

const AggregateType = "Reservation"

// MaxNoteLength bounds the free-text note attached to a reservation.
const MaxNoteLength = 500

type Status string

const (
	StatusPending   Status = "in_attesa"
	StatusConfirmed Status = "confermata"
	StatusCancelled Status = "annullata"
	StatusCompleted Status = "completata"
	StatusExpired   Status = "scaduta"
)

var (
	ErrReservationNotFound = fmt.Errorf("%w: reservation not found", domain.ErrNotFound)
	ErrNotOwner            = fmt.Errorf("%w: reservation belongs to another actor", domain.ErrForbidden)
	ErrInvalidStatus       = fmt.Errorf("%w: invalid reservation status transition", domain.ErrConflict)
	ErrNotActive           = fmt.Errorf("%w: reservation is no longer active", domain.ErrConflict)
	ErrNoteTooLong         = fmt.Errorf("%w: note is too long", domain.ErrValidation)
	ErrMissingLot          = fmt.Errorf("%w: lot id is required", domain.ErrValidation)
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusExpired},
	StatusCancelled: {}, // terminal state
	StatusCompleted: {}, // terminal state
	StatusExpired:   {}, // terminal state
}

// ParseStatus accepts the wire names.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := validTransitions[s]; !ok {
		return "", fmt.Errorf("%w: unknown reservation status %q", domain.ErrValidation, v)
	}
	return s, nil
}

// Active reports whether the reservation still holds lot quantity.
func (s Status) Active() bool {
	return s == StatusConfirmed
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

type Reservation struct {
	ID         string          `json:"id"`
	LotID      string          `json:"lotto_id"`
	ActorID    string          `json:"attore_id"`
	// ActorEmail is where lifecycle notices are sent. Empty disables them.
	ActorEmail string          `json:"-"`
	Quantity   decimal.Decimal `json:"quantita"`
	Note       string          `json:"note,omitempty"`
	Status     Status          `json:"stato"`
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// New returns a reservation admitted directly into the Confirmed state.
func New(id, lotID, actorID string, quantity decimal.Decimal, note string, now time.Time) Reservation {
	return Reservation{
		ID:        id,
		LotID:     lotID,
		ActorID:   actorID,
		Quantity:  quantity,
		Note:      strings.TrimSpace(note),
		Status:    StatusConfirmed,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransitionTo checks if the reservation can transition to the target status
func (r *Reservation) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[r.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// Transition returns a copy moved to target, with its version bumped.
func (r Reservation) Transition(target Status, now time.Time) (Reservation, error) {
	if !r.CanTransitionTo(target) {
		return r, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, r.Status, target)
	}
	r.Status = target
	r.Version++
	r.UpdatedAt = now
	return r, nil
}

// Resize returns a copy holding quantity q.
func (r Reservation) Resize(q decimal.Decimal, note *string, now time.Time) (Reservation, error) {
	if !r.Status.Active() {
		return r, ErrNotActive
	}
	r.Quantity = q
	if note != nil {
		r.Note = strings.TrimSpace(*note)
	}
	r.Version++
	r.UpdatedAt = now
	return r, nil
}

func ValidateNote(note string) error {
	if len(note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}

// Filter selects reservations for listing. Empty fields match everything.
type Filter struct {
	ActorID string
	LotID   string
	Status  Status
	Limit   int
	Offset  int
}

func (f Filter) Matches(r *Reservation) bool {
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if f.LotID != "" && r.LotID != f.LotID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
