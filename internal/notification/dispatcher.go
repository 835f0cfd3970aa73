package notification

import (
	"context"
	"sync"
	"time"

	"github.com/example/foodlots/internal/metrics"
	"github.com/sirupsen/logrus"
)

const DefaultBuffer = 256

// Sink delivers an event to the outside world.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Dispatcher decouples publishers from the sink. Publish never blocks: when the
// buffer is full the event is dropped and counted.
type Dispatcher struct {
	sink    Sink
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

func NewDispatcher(sink Sink, buffer int, log logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		sink:    sink,
		log:     log.WithField("component", "dispatcher"),
		metrics: m,
		timeout: 5 * time.Second,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
}

// Publish enqueues e for delivery. It reports whether the event was accepted.
func (d *Dispatcher) Publish(ctx context.Context, e Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.RecordNotification("dropped")
		return false
	}

	select {
	case d.events <- e:
		return true
	default:
		d.metrics.RecordNotification("dropped")
		d.log.WithFields(logrus.Fields{
			"event_type":   e.EventType,
			"aggregate_id": e.AggregateID,
		}).Warn("notification buffer full, event dropped")
		return false
	}
}

// Run delivers queued events until Close is called and the buffer is drained.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for e := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Send(ctx, e)
		cancel()

		if err != nil {
			d.metrics.RecordNotification("failed")
			d.log.WithError(err).WithFields(logrus.Fields{
				"event_type":   e.EventType,
				"aggregate_id": e.AggregateID,
			}).Error("failed to deliver notification")
			continue
		}
		d.metrics.RecordNotification("sent")
	}
}

// Close stops accepting events and waits for the queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes events to the log. Used when no broker is configured.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Send(ctx context.Context, e Event) error {
	s.Log.WithFields(logrus.Fields{
		"event_id":     e.ID,
		"event_type":   e.EventType,
		"aggregate_id": e.AggregateID,
	}).Info("notification")
	return nil
}
