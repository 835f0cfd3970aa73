// Package idempotency stores the outcome of write requests under the caller's
// Idempotency-Key so a retried request gets the first response back.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/example/foodlots/internal/domain"
)

const (
	// DefaultTTL is how long a completed response is replayed.
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL bounds how long a reservation blocks its key when the
	// request never completes or releases it.
	DefaultPendingTTL = time.Minute
)

// ErrInFlight is returned when a request with the same key has not finished yet.
var ErrInFlight = fmt.Errorf("%w: a request with this idempotency key is still in progress", domain.ErrConflict)

// Record is the stored response of a completed request.
type Record struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Store reserves keys and keeps completed responses.
//
// Begin either reserves key for the caller (nil record) or returns the record
// of a completed request. A reservation must be followed by Complete or Release.
type Store interface {
	Begin(ctx context.Context, key string) (*Record, error)
	Complete(ctx context.Context, key string, rec Record) error
	Release(ctx context.Context, key string) error
}

// Key scopes a client key to the actor and route it was sent to.
func Key(actorID, method, path, clientKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s:%s", actorID, method, path, clientKey)
}
