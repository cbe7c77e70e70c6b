package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes Events to a Kafka topic. Grounded on
// internal/notify/kafka.go's KafkaBackend.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink builds a Sink writing to topic across brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
	}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
