// Package kafka publishes committed ledger mutations to a Kafka topic.
// Sharing and reporting consumers (WhatsApp/SMS formatters, dashboards)
// subscribe to these events instead of polling the store.
//
// Publishing is fire-and-forget from the engine's point of view: a
// publish failure is logged by the engine and never rolls back the
// mutation that produced it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/khata/ledger-engine/ledger"
)

// Publisher implements ledger.EventPublisher over a kafka.Writer.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish encodes the event as JSON and writes it keyed by event type,
// so consumers can partition-filter without decoding.
func (p *Publisher) Publish(eventType string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(eventType),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ ledger.EventPublisher = (*Publisher)(nil)
