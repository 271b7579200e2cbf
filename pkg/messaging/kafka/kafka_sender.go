package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erain9/lobook/pkg/messaging"
	"github.com/erain9/lobook/pkg/otel"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const sendTimeout = 5 * time.Second

// messageWriter is the part of *kafka.Writer the sender uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMessageSender implements MessageSender using Kafka. Updates are keyed
// by book name so one book's updates stay on one partition, in order.
type KafkaMessageSender struct {
	writer messageWriter
	topic  string
}

var _ messaging.MessageSender = (*KafkaMessageSender)(nil)

// NewKafkaMessageSender creates a new Kafka message sender
func NewKafkaMessageSender(brokers []string, topic string) (*KafkaMessageSender, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("no Kafka topic configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaMessageSender{
		writer: writer,
		topic:  topic,
	}, nil
}

// SendBookUpdate sends a book update to Kafka
func (k *KafkaMessageSender) SendBookUpdate(ctx context.Context, update *messaging.BookUpdate) error {
	ctx, span := otel.StartBookSpan(ctx, otel.SpanPublishUpdate,
		attribute.String(otel.AttributeBookName, update.Book),
		attribute.Int64(otel.AttributeBookSeq, int64(update.Seq)),
	)
	defer span.End()

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal book update: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(update.Book),
		Value: data,
		Time:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to send book update to Kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer
func (k *KafkaMessageSender) Close() error {
	return k.writer.Close()
}
