// Package lifecycle moves reservations out of Confirmed on the service's own
// initiative: expiry when the lot goes bad and completion on pickup.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/foodlots/internal/command"
	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/example/foodlots/internal/infrastructure/store"
	"github.com/example/foodlots/internal/metrics"
	"github.com/example/foodlots/internal/notification"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultSchedule = "@every 1m"

// ErrNotLotOwner is returned when someone other than the lot's producer completes a reservation.
var ErrNotLotOwner = fmt.Errorf("%w: only the lot producer can complete a reservation", domain.ErrForbidden)

// SweepReport summarizes one sweep.
type SweepReport struct {
	LotsScanned      int
	FreshnessUpdated int
	Expired          int
	Failed           int
}

type Manager struct {
	store     store.Store
	publisher command.Publisher
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	retry     command.RetryPolicy
	now       func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	sweeping sync.Mutex
}

type Option func(*Manager)

func WithRetryPolicy(p command.RetryPolicy) Option {
	return func(m *Manager) { m.retry = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. publisher may be nil.
func NewManager(s store.Store, publisher command.Publisher, log logrus.FieldLogger, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		publisher: publisher,
		log:       log.WithField("component", "lifecycle"),
		retry:     command.DefaultRetryPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sweep persists recomputed freshness for every lot and expires the confirmed
// reservations of lots that reached Expired. A reservation that fails to expire
// is counted and retried on the next sweep.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	m.sweeping.Lock()
	defer m.sweeping.Unlock()

	var report SweepReport

	lots, err := m.store.ListLots(ctx, lot.Filter{Now: now})
	if err != nil {
		return report, fmt.Errorf("list lots: %w", err)
	}

	for _, l := range lots {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.LotsScanned++

		state := l.FreshnessAt(now)
		if state > l.Freshness {
			if err := m.store.SetFreshness(ctx, l.ID, state, now); err != nil {
				m.log.WithError(err).WithField("lot_id", l.ID).Error("failed to store freshness")
				report.Failed++
				continue
			}
			report.FreshnessUpdated++
			m.publish(ctx, l.ID, lot.AggregateType, lot.EventLotFreshnessChanged, l.Version, lot.LotFreshnessChanged{
				LotID:     l.ID,
				From:      l.Freshness,
				To:        state,
				ChangedAt: now,
			})
		}
		if state != freshness.Expired {
			continue
		}

		active, err := m.store.ListReservations(ctx, reservation.Filter{LotID: l.ID, Status: reservation.StatusConfirmed})
		if err != nil {
			m.log.WithError(err).WithField("lot_id", l.ID).Error("failed to list reservations")
			report.Failed++
			continue
		}
		for _, r := range active {
			expired, err := m.expire(ctx, r.ID, now)
			switch {
			case err != nil:
				m.log.WithError(err).WithFields(logrus.Fields{"lot_id": l.ID, "reservation_id": r.ID}).Error("failed to expire reservation")
				report.Failed++
			case expired:
				report.Expired++
			}
		}
	}

	entry := m.log.WithFields(logrus.Fields{
		"lots":      report.LotsScanned,
		"freshness": report.FreshnessUpdated,
		"expired":   report.Expired,
		"failed":    report.Failed,
	})
	if report.FreshnessUpdated > 0 || report.Expired > 0 || report.Failed > 0 {
		entry.Info("sweep finished")
	} else {
		entry.Debug("sweep finished")
	}
	return report, nil
}

// expire moves one reservation to Expired and releases its quantity. It reports
// false when another writer already took the reservation out of Confirmed.
func (m *Manager) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	var (
		result  reservation.Reservation
		product string
		changed bool
	)
	err := m.retry.Do(ctx, m.onRetry, func(ctx context.Context) error {
		r, err := m.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !r.Status.Active() {
			changed = false
			return nil
		}
		l, err := m.store.GetLot(ctx, r.LotID)
		if err != nil {
			return err
		}
		next, err := m.release(ctx, r, l, reservation.StatusExpired, now)
		if err != nil {
			return err
		}
		result, product, changed = next, l.Product, true
		return nil
	})
	if err != nil || !changed {
		return false, err
	}

	m.metrics.RecordTransition(string(reservation.StatusExpired))
	m.publishReservation(ctx, reservation.EventReservationExpired, result, product)
	return true, nil
}

// Complete records pickup of a confirmed reservation and releases its quantity.
// Only the lot's producer or an admin may complete. Completing twice is a no-op.
func (m *Manager) Complete(ctx context.Context, id string, actor domain.Actor) (*reservation.Reservation, error) {
	var (
		result  reservation.Reservation
		product string
		changed bool
	)
	err := m.retry.Do(ctx, m.onRetry, func(ctx context.Context) error {
		r, err := m.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		l, err := m.store.GetLot(ctx, r.LotID)
		if err != nil {
			return err
		}
		if l.OwnerID != actor.ID && !actor.IsAdmin() {
			return ErrNotLotOwner
		}
		if r.Status == reservation.StatusCompleted {
			result, changed = r, false
			return nil
		}

		next, err := m.release(ctx, r, l, reservation.StatusCompleted, m.now())
		if err != nil {
			return err
		}
		result, product, changed = next, l.Product, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.metrics.RecordTransition(string(reservation.StatusCompleted))
		m.publishReservation(ctx, reservation.EventReservationCompleted, result, product)
		m.log.WithFields(logrus.Fields{"reservation_id": result.ID, "lot_id": result.LotID}).Info("reservation completed")
	}
	return &result, nil
}

// release commits the transition and the quantity restore together.
func (m *Manager) release(ctx context.Context, r reservation.Reservation, l lot.Lot, target reservation.Status, now time.Time) (reservation.Reservation, error) {
	next, err := r.Transition(target, now)
	if err != nil {
		return r, err
	}
	err = m.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.AdjustAvailable(ctx, l.ID, r.Quantity, l.QuantityAvailable); err != nil {
			return err
		}
		return tx.SaveReservation(ctx, next, r.Version)
	})
	if err != nil {
		return r, err
	}
	return next, nil
}

// Start runs Sweep on schedule until Stop is called.
func (m *Manager) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("lifecycle manager already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := m.Sweep(ctx, m.now()); err != nil && ctx.Err() == nil {
			m.log.WithError(err).Error("sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	m.cron = c
	m.log.WithField("schedule", schedule).Info("lifecycle sweep scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) onRetry(attempt int) {
	m.metrics.RecordRetry("lifecycle")
	m.log.WithField("attempt", attempt).Debug("concurrent update, retrying")
}

func (m *Manager) publishReservation(ctx context.Context, eventType string, r reservation.Reservation, product string) {
	m.publish(ctx, r.ID, reservation.AggregateType, eventType, r.Version, reservation.LifecycleEvent{
		ReservationID: r.ID,
		LotID:         r.LotID,
		ActorID:       r.ActorID,
		ActorEmail:    r.ActorEmail,
		Product:       product,
		Quantity:      r.Quantity,
		Status:        r.Status,
		OccurredAt:    r.UpdatedAt,
	})
}

func (m *Manager) publish(ctx context.Context, aggregateID, aggregateType, eventType string, version int, data any) {
	if m.publisher == nil {
		return
	}
	e, err := notification.NewEvent(aggregateID, aggregateType, eventType, version, data)
	if err != nil {
		m.log.WithError(err).WithField("event_type", eventType).Error("failed to build event")
		return
	}
	m.publisher.Publish(ctx, e)
}
