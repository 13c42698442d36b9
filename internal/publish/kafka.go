package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	. "meridian/internal/common"

	"github.com/segmentio/kafka-go"
)

// EventVersion is bumped whenever the JSON shape of Event changes.
const EventVersion = 1

// Event is the envelope written to Kafka for every accepted order.
type Event struct {
	V    int        `json:"v"`
	Type string     `json:"type"`
	Data OrderEvent `json:"data"`
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes order events to a topic, keyed by symbol so each symbol's
// events stay ordered within a partition.
type Kafka struct {
	writer MessageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func NewKafkaWithWriter(writer MessageWriter) *Kafka {
	return &Kafka{writer: writer}
}

func (k *Kafka) ReportOrder(ctx context.Context, event OrderEvent) error {
	value, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Symbol),
		Value: value,
		Time:  event.Order.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", event.Order.UUID, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// EncodeEvent renders the Kafka payload for event.
func EncodeEvent(event OrderEvent) ([]byte, error) {
	return json.Marshal(Event{
		V:    EventVersion,
		Type: "order_event",
		Data: event,
	})
}
