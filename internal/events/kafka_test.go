package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/event"
)

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

func sampleEvent() event.Event {
	return event.Event{
		ID:          "evt-1",
		Type:        event.PaymentRefunded,
		AggregateID: "pay-1",
		OccurredAt:  time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Data:        map[string]string{"amount": "100.00", "status": "partially_refunded"},
	}
}

func TestEncode(t *testing.T) {
	raw := Encode(sampleEvent())

	got := map[string]string{}
	data := map[string]string{}
	d := jx.DecodeBytes(raw)
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		if key == "data" {
			return d.Obj(func(d *jx.Decoder, key string) error {
				v, err := d.Str()
				data[key] = v
				return err
			})
		}
		v, err := d.Str()
		got[key] = v
		return err
	}))

	assert.Equal(t, map[string]string{
		"id":          "evt-1",
		"type":        "payment.refunded",
		"aggregateId": "pay-1",
		"occurredAt":  "2025-06-15T12:00:00Z",
	}, got)
	assert.Equal(t, map[string]string{"amount": "100.00", "status": "partially_refunded"}, data)
}

func TestPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w)

	require.NoError(t, p.Publish(context.Background()))
	assert.Empty(t, w.msgs)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "pay-1", string(msg.Key))
	assert.Equal(t, sampleEvent().OccurredAt, msg.Time)
	require.NotEmpty(t, msg.Headers)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, "payment.refunded", string(msg.Headers[0].Value))
}

func TestPublisher_WriteError(t *testing.T) {
	p := NewPublisher(&mockWriter{err: errors.New("broker down")})
	err := p.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write messages")
}

func TestHeaderCarrier(t *testing.T) {
	c := headerCarrier{}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("tracestate", "x")
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "tracestate"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}
