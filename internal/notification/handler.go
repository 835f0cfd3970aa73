package notification

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/example/foodlots/internal/email"
	"github.com/sirupsen/logrus"
)

// Mailer sends reservation notices.
type Mailer interface {
	SendReservationNotice(to string, n email.ReservationNotice) error
}

// Deduper reports whether key has been processed before, marking it as seen.
// Release forgets key so a redelivery is processed again.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Handler processes events for sending notifications
type Handler struct {
	mailer  Mailer
	deduper Deduper
	log     logrus.FieldLogger
}

// NewHandler creates a new notification handler. deduper may be nil.
func NewHandler(mailer Mailer, deduper Deduper, log logrus.FieldLogger) *Handler {
	return &Handler{
		mailer:  mailer,
		deduper: deduper,
		log:     log.WithField("component", "notifier"),
	}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.log.WithError(err).Error("failed to unmarshal event")
		return err
	}
	return h.Handle(ctx, event)
}

// Handle e-mails the actor of a reservation event. Other events are ignored.
func (h *Handler) Handle(ctx context.Context, event Event) error {
	if event.AggregateType != reservation.AggregateType {
		return nil
	}

	var e reservation.LifecycleEvent
	if err := json.Unmarshal(event.Data, &e); err != nil {
		h.log.WithError(err).WithField("event_type", event.EventType).Error("failed to unmarshal reservation event")
		return err
	}

	log := h.log.WithFields(logrus.Fields{
		"event_type":     event.EventType,
		"reservation_id": e.ReservationID,
	})

	if strings.TrimSpace(e.ActorEmail) == "" {
		log.Debug("no contact address, skipping")
		return nil
	}

	dedupKey := ""
	if h.deduper != nil && event.ID != "" {
		seen, err := h.deduper.Seen(ctx, "notify:"+event.ID)
		switch {
		case err != nil:
			log.WithError(err).Warn("dedup check failed, sending anyway")
		case seen:
			log.Info("duplicate event skipped")
			return nil
		default:
			dedupKey = "notify:" + event.ID
		}
	}

	notice := email.ReservationNotice{
		ReservationID: e.ReservationID,
		EventType:     event.EventType,
		Product:       e.Product,
		Quantity:      e.Quantity.String(),
		Status:        string(e.Status),
	}
	if err := h.mailer.SendReservationNotice(e.ActorEmail, notice); err != nil {
		log.WithError(err).Error("failed to send email")
		if dedupKey != "" {
			if rerr := h.deduper.Release(context.WithoutCancel(ctx), dedupKey); rerr != nil {
				log.WithError(rerr).Warn("failed to release dedup key, redelivery will be skipped")
			}
		}
		return err
	}

	log.WithField("to", e.ActorEmail).Info("reservation notice sent")
	return nil
}
