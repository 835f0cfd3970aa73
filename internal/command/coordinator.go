package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/example/foodlots/internal/infrastructure/store"
	"github.com/example/foodlots/internal/metrics"
	"github.com/example/foodlots/internal/notification"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrNotProducer is returned when an actor without the producer role publishes a lot.
var ErrNotProducer = fmt.Errorf("%w: only producers can publish lots", domain.ErrForbidden)

const (
	opCreateLot = "create_lot"
	opCreate    = "create"
	opUpdate    = "update"
	opCancel    = "cancel"
)

// Publisher receives lifecycle events after a change commits. It must not block.
type Publisher interface {
	Publish(ctx context.Context, e notification.Event) bool
}

// Coordinator is the write side for lots and reservations. It is the only
// component that moves quantity between a lot and its reservations on request.
type Coordinator struct {
	store     store.Store
	publisher Publisher
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	retry     RetryPolicy
	now       func() time.Time
	newID     func() string
}

type Option func(*Coordinator)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) { c.retry = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// NewCoordinator creates a coordinator. publisher may be nil.
func NewCoordinator(s store.Store, publisher Publisher, log logrus.FieldLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     s,
		publisher: publisher,
		log:       log.WithField("component", "coordinator"),
		retry:     DefaultRetryPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateLot publishes a new lot with all of its quantity available
func (c *Coordinator) CreateLot(ctx context.Context, cmd CreateLot) (*lot.Lot, error) {
	l, err := c.createLot(ctx, cmd)
	c.metrics.RecordOutcome(opCreateLot, outcome(err))
	if err != nil {
		return nil, err
	}

	c.publish(ctx, l.ID, lot.AggregateType, lot.EventLotCreated, l.Version, lot.LotCreated{
		LotID:         l.ID,
		OwnerID:       l.OwnerID,
		Product:       l.Product,
		QuantityTotal: l.QuantityTotal,
		Unit:          l.Unit,
		ExpiresAt:     l.ExpiresAt,
		CreatedAt:     l.CreatedAt,
	})
	c.log.WithFields(logrus.Fields{"lot_id": l.ID, "owner_id": l.OwnerID}).Info("lot created")
	return &l, nil
}

func (c *Coordinator) createLot(ctx context.Context, cmd CreateLot) (lot.Lot, error) {
	if cmd.Actor.Role != domain.RoleProducer && !cmd.Actor.IsAdmin() {
		return lot.Lot{}, ErrNotProducer
	}
	now := c.now()
	if err := cmd.Draft.Validate(now); err != nil {
		return lot.Lot{}, err
	}

	l := lot.New(c.newID(), cmd.Actor.ID, cmd.Draft, now)
	if err := c.store.CreateLot(ctx, l); err != nil {
		return lot.Lot{}, err
	}
	return l, nil
}

// CreateReservation admits a reservation only if the lot still has enough
// available quantity at commit time.
func (c *Coordinator) CreateReservation(ctx context.Context, cmd CreateReservation) (*reservation.Reservation, error) {
	var (
		created reservation.Reservation
		product string
	)

	err := c.validateReservationInput(cmd.LotID, cmd.Quantity, cmd.Note)
	if err == nil {
		err = c.retry.Do(ctx, c.onRetry(opCreate), func(ctx context.Context) error {
			l, err := c.store.GetLot(ctx, cmd.LotID)
			if err != nil {
				return err
			}
			now := c.now()
			if l.FreshnessAt(now) == freshness.Expired {
				return lot.ErrLotExpired
			}
			if err := l.Unit.ValidateQuantity(cmd.Quantity); err != nil {
				return err
			}
			if cmd.Quantity.GreaterThan(l.QuantityAvailable) {
				return lot.ErrInsufficientQuantity
			}

			r := reservation.New(c.newID(), l.ID, cmd.Actor.ID, cmd.Quantity, cmd.Note, now)
			r.ActorEmail = cmd.Actor.Email

			err = c.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				if _, err := tx.AdjustAvailable(ctx, l.ID, cmd.Quantity.Neg(), l.QuantityAvailable); err != nil {
					return err
				}
				return tx.SaveReservation(ctx, r, 0)
			})
			if err != nil {
				return err
			}
			created, product = r, l.Product
			return nil
		})
	}

	err = insufficientOnBounds(err)
	c.metrics.RecordOutcome(opCreate, outcome(err))
	if err != nil {
		c.logFailure(opCreate, err, logrus.Fields{"lot_id": cmd.LotID, "actor_id": cmd.Actor.ID})
		return nil, err
	}

	c.publishReservation(ctx, reservation.EventReservationCreated, created, product)
	c.log.WithFields(logrus.Fields{
		"reservation_id": created.ID,
		"lot_id":         created.LotID,
		"quantity":       created.Quantity.String(),
	}).Info("reservation confirmed")
	return &created, nil
}

// UpdateReservation changes the quantity of a confirmed reservation. Growth is
// checked against the lot like a new reservation, shrinking always fits.
func (c *Coordinator) UpdateReservation(ctx context.Context, cmd UpdateReservation) (*reservation.Reservation, error) {
	var (
		updated reservation.Reservation
		product string
	)

	var err error
	if cmd.Note != nil {
		err = reservation.ValidateNote(*cmd.Note)
	}
	if err == nil && !cmd.Quantity.IsPositive() {
		err = lot.ErrInvalidQuantity
	}
	if err == nil {
		err = c.retry.Do(ctx, c.onRetry(opUpdate), func(ctx context.Context) error {
			r, err := c.store.GetReservation(ctx, cmd.ReservationID)
			if err != nil {
				return err
			}
			if r.ActorID != cmd.Actor.ID {
				return reservation.ErrNotOwner
			}
			if !r.Status.Active() {
				return reservation.ErrNotActive
			}

			l, err := c.store.GetLot(ctx, r.LotID)
			if err != nil {
				return err
			}
			if err := l.Unit.ValidateQuantity(cmd.Quantity); err != nil {
				return err
			}

			now := c.now()
			delta := cmd.Quantity.Sub(r.Quantity)
			if delta.IsPositive() {
				if l.FreshnessAt(now) == freshness.Expired {
					return lot.ErrLotExpired
				}
				if delta.GreaterThan(l.QuantityAvailable) {
					return lot.ErrInsufficientQuantity
				}
			}

			next, err := r.Resize(cmd.Quantity, cmd.Note, now)
			if err != nil {
				return err
			}

			err = c.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				if !delta.IsZero() {
					if _, err := tx.AdjustAvailable(ctx, l.ID, delta.Neg(), l.QuantityAvailable); err != nil {
						return err
					}
				}
				return tx.SaveReservation(ctx, next, r.Version)
			})
			if err != nil {
				return err
			}
			updated, product = next, l.Product
			return nil
		})
	}

	err = insufficientOnBounds(err)
	c.metrics.RecordOutcome(opUpdate, outcome(err))
	if err != nil {
		c.logFailure(opUpdate, err, logrus.Fields{"reservation_id": cmd.ReservationID, "actor_id": cmd.Actor.ID})
		return nil, err
	}

	c.publishReservation(ctx, reservation.EventReservationUpdated, updated, product)
	return &updated, nil
}

// CancelReservation releases a confirmed reservation's quantity back to its lot.
// Cancelling an already cancelled reservation returns it unchanged.
func (c *Coordinator) CancelReservation(ctx context.Context, cmd CancelReservation) (*reservation.Reservation, error) {
	var (
		result  reservation.Reservation
		product string
		changed bool
	)

	err := c.retry.Do(ctx, c.onRetry(opCancel), func(ctx context.Context) error {
		r, err := c.store.GetReservation(ctx, cmd.ReservationID)
		if err != nil {
			return err
		}
		if r.ActorID != cmd.Actor.ID {
			return reservation.ErrNotOwner
		}
		if r.Status == reservation.StatusCancelled {
			result, changed = r, false
			return nil
		}

		cancelled, err := r.Transition(reservation.StatusCancelled, c.now())
		if err != nil {
			return err
		}
		l, err := c.store.GetLot(ctx, r.LotID)
		if err != nil {
			return err
		}

		err = c.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.AdjustAvailable(ctx, l.ID, r.Quantity, l.QuantityAvailable); err != nil {
				return err
			}
			return tx.SaveReservation(ctx, cancelled, r.Version)
		})
		if err != nil {
			return err
		}
		result, product, changed = cancelled, l.Product, true
		return nil
	})

	if err == nil && !changed {
		c.metrics.RecordOutcome(opCancel, "noop")
		return &result, nil
	}
	c.metrics.RecordOutcome(opCancel, outcome(err))
	if err != nil {
		c.logFailure(opCancel, err, logrus.Fields{"reservation_id": cmd.ReservationID, "actor_id": cmd.Actor.ID})
		return nil, err
	}

	c.publishReservation(ctx, reservation.EventReservationCancelled, result, product)
	c.log.WithFields(logrus.Fields{
		"reservation_id": result.ID,
		"lot_id":         result.LotID,
		"released":       result.Quantity.String(),
	}).Info("reservation cancelled")
	return &result, nil
}

func (c *Coordinator) validateReservationInput(lotID string, q decimal.Decimal, note string) error {
	if strings.TrimSpace(lotID) == "" {
		return reservation.ErrMissingLot
	}
	if !q.IsPositive() {
		return lot.ErrInvalidQuantity
	}
	return reservation.ValidateNote(note)
}

func (c *Coordinator) onRetry(op string) func(int) {
	return func(attempt int) {
		c.metrics.RecordRetry(op)
		c.log.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Debug("concurrent update, retrying")
	}
}

func (c *Coordinator) logFailure(op string, err error, fields logrus.Fields) {
	entry := c.log.WithFields(fields).WithField("op", op).WithError(err)
	switch outcome(err) {
	case "error":
		entry.Error("command failed")
	case "exhausted":
		entry.Warn("command gave up after concurrent updates")
	default:
		entry.Debug("command rejected")
	}
}

func (c *Coordinator) publishReservation(ctx context.Context, eventType string, r reservation.Reservation, product string) {
	c.publish(ctx, r.ID, reservation.AggregateType, eventType, r.Version, reservation.LifecycleEvent{
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

func (c *Coordinator) publish(ctx context.Context, aggregateID, aggregateType, eventType string, version int, data any) {
	if c.publisher == nil {
		return
	}
	e, err := notification.NewEvent(aggregateID, aggregateType, eventType, version, data)
	if err != nil {
		c.log.WithError(err).WithField("event_type", eventType).Error("failed to build event")
		return
	}
	c.publisher.Publish(ctx, e)
}

// insufficientOnBounds reports a bounds violation caught by the store the same
// way as one caught against the snapshot.
func insufficientOnBounds(err error) error {
	if errors.Is(err, store.ErrOutOfBounds) {
		return lot.ErrInsufficientQuantity
	}
	return err
}
