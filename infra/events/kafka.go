package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giovaniif/stock-reservation/protocols"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	DefaultPublishTimeout = 500 * time.Millisecond
	publishMaxAttempts    = 2
)

// KafkaPublisher writes reservation events keyed by product id, so every event of a product
// lands on the same partition in order. A publish never blocks its caller longer than timeout.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

type KafkaOption func(*KafkaPublisher)

func WithPublishTimeout(d time.Duration) KafkaOption {
	return func(p *KafkaPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewKafkaPublisher(brokers []string, topic string, opts ...KafkaOption) *KafkaPublisher {
	p := &KafkaPublisher{timeout: DefaultPublishTimeout}
	for _, opt := range opts {
		opt(p)
	}
	p.writer = &kafka.Writer{
		Addr:            kafka.TCP(brokers...),
		Topic:           topic,
		Balancer:        &kafka.Hash{},
		BatchTimeout:    10 * time.Millisecond,
		RequiredAcks:    kafka.RequireOne,
		MaxAttempts:     publishMaxAttempts,
		WriteBackoffMin: 10 * time.Millisecond,
		WriteBackoffMax: 50 * time.Millisecond,
		WriteTimeout:    p.timeout,
		ReadTimeout:     p.timeout,
		Transport:       &kafka.Transport{DialTimeout: p.timeout},
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt protocols.ReservationEvent) error {
	msg, err := toMessage(ctx, evt)
	if err != nil {
		return err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(ctx context.Context, evt protocols.ReservationEvent) (kafka.Message, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", evt.Type, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := []kafka.Header{{Key: "event_type", Value: []byte(evt.Type)}}
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     []byte(evt.ProductId),
		Value:   payload,
		Headers: headers,
		Time:    evt.OccurredAt,
	}, nil
}
