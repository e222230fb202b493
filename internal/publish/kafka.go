package publish

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ble-sensors.klederson.com/internal/sensor"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every reading to a Kafka topic keyed by sensor MAC, so
// all readings of one sensor land in the same partition.
type KafkaSink struct {
	writer messageWriter
	unit   sensor.TemperatureFormat
	source string
}

// NewKafkaSink creates a synchronous producer for topic.
func NewKafkaSink(brokers []string, topic string, unit sensor.TemperatureFormat, source string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		unit:   unit,
		source: source,
	}
}

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, r sensor.Reading) error {
	value, err := NewMessage(r, k.unit, k.source).Encode()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(r.MAC),
		Value: value,
		Time:  r.CapturedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
