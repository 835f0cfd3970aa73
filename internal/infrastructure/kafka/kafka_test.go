package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/example/foodlots/internal/notification"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestProducer_Send(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	e, err := notification.NewEvent("res-1", "Reservation", "ReservationCreated", 1, map[string]string{"k": "v"})
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), e))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("res-1"), msg.Key)
	assert.Equal(t, "ReservationCreated", headerValue(msg.Headers, eventTypeHeader))

	var decoded notification.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.JSONEq(t, `{"k":"v"}`, string(decoded.Data))
}

func TestConsumer_CommitsEvenWhenHandlerFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Offset: 1, Key: []byte("a"), Value: []byte("ok")},
			{Offset: 2, Key: []byte("b"), Value: []byte("fail")},
		},
	}
	logger, hook := test.NewNullLogger()
	c := &Consumer{reader: reader, log: logger}

	var handled []string
	err := c.Consume(ctx, func(ctx context.Context, key, value []byte) error {
		handled = append(handled, string(value))
		if string(value) == "fail" {
			return errors.New("boom")
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"ok", "fail"}, handled)
	assert.Equal(t, []int64{1, 2}, reader.committed)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
