// Package domain holds the error taxonomy shared by the lot and reservation packages.
//
// Domain packages wrap these sentinels so callers can classify any failure with errors.Is
// without knowing which package produced it.
package domain

import "errors"

var (
	// ErrValidation marks malformed or out-of-range input. Never retried automatically.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks insufficient remaining quantity, an invalid state transition
	// or a concurrent write that exhausted its retry budget.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks an unknown lot or reservation.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an actor acting on a resource it does not own.
	ErrForbidden = errors.New("forbidden")
)
