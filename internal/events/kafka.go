// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/event"
)

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events as JSON messages keyed by aggregate id, so all
// events of one order or payment land on the same partition in order.
type Publisher struct {
	w Writer
}

var _ event.Publisher = (*Publisher)(nil)

// NewPublisher wraps an existing writer.
func NewPublisher(w Writer) *Publisher {
	return &Publisher{w: w}
}

// NewKafkaPublisher creates a Publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *Publisher {
	return NewPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

func (p *Publisher) Publish(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		msgs[i] = Message(ctx, e)
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Message builds the Kafka message for e. The trace context of ctx is
// propagated in the headers.
func Message(ctx context.Context, e event.Event) kafka.Message {
	headers := headerCarrier{{Key: "event-type", Value: []byte(e.Type)}}
	otel.GetTextMapPropagator().Inject(ctx, &headers)
	return kafka.Message{
		Key:     []byte(e.AggregateID),
		Value:   Encode(e),
		Headers: headers,
		Time:    e.OccurredAt,
	}
}

// Encode renders e as JSON.
func Encode(e event.Event) []byte {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(e.ID) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("aggregateId", func(enc *jx.Encoder) { enc.Str(e.AggregateID) })
		enc.Field("occurredAt", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		enc.Field("data", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				for _, k := range keys {
					enc.Field(k, func(enc *jx.Encoder) { enc.Str(e.Data[k]) })
				}
			})
		})
	})
	return enc.Bytes()
}

// headerCarrier adapts Kafka headers to the OpenTelemetry propagation carrier.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}
