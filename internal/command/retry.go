package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/infrastructure/store"
)

const DefaultMaxAttempts = 5

// ErrRetriesExhausted is returned when every attempt lost the race to a concurrent writer.
var ErrRetriesExhausted = fmt.Errorf("%w: too many concurrent updates, try again", domain.ErrConflict)

// RetryPolicy bounds the optimistic read-modify-write loop.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: JitteredBackoff}
}

// JitteredBackoff waits between half and all of 5ms·2^(attempt-1), capped at 200ms.
func JitteredBackoff(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), 6)
	d := min(5*time.Millisecond<<shift, 200*time.Millisecond)
	return d/2 + rand.N(d/2)
}

// Do runs fn until it returns something other than store.ErrStaleWrite.
// onRetry, if set, is called before each new attempt.
func (p RetryPolicy) Do(ctx context.Context, onRetry func(attempt int), fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if !errors.Is(err, store.ErrStaleWrite) {
			return err
		}
		if attempt >= maxAttempts {
			return ErrRetriesExhausted
		}
		if onRetry != nil {
			onRetry(attempt)
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// outcome labels an error for the outcomes metric.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRetriesExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	}
	return "error"
}
