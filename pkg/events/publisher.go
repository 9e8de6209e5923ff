package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	skafka "github.com/segmentio/kafka-go"
)

// Publisher is the interface used by services to publish ledger events for
// downstream consumers (analytics, notification fan-out). Publishing is
// best-effort: the ledger transaction has already committed by the time an
// event is emitted.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// Writer defines the subset of segmentio kafka.Writer we need. This makes
// the publisher testable.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaPublisher publishes JSON-encoded events to a Kafka topic.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher writing to the given brokers/topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:     skafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &skafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter wires a publisher onto an existing writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, skafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards all events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }

// NewFromBrokers returns a Kafka publisher when brokers are configured and a
// noop publisher otherwise.
func NewFromBrokers(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		log.Println("[Events] No Kafka brokers configured, events disabled")
		return NoopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
