package feed

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/erain9/lobook/pkg/core"
)

// EventPublisher writes order events to one topic partition
type EventPublisher struct {
	producer  sarama.SyncProducer
	topic     string
	partition int32
}

// NewEventPublisher connects a synchronous producer to the brokers in cfg
func NewEventPublisher(cfg Config) (*EventPublisher, error) {
	cfg = cfg.withDefaults()

	producer, err := newSyncProducer(cfg.Brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &EventPublisher{
		producer:  producer,
		topic:     cfg.Topic,
		partition: cfg.Partition,
	}, nil
}

// Publish sends one event and returns the offset it was written at
func (p *EventPublisher) Publish(event core.OrderEvent) (int64, error) {
	data, err := EncodeEvent(event)
	if err != nil {
		return 0, err
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Partition: p.partition,
		Key:       sarama.StringEncoder(event.OrderID),
		Value:     sarama.ByteEncoder(data),
	}

	_, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send event to Kafka: %w", err)
	}
	return offset, nil
}

// PublishBatch sends events in one request, preserving their order
func (p *EventPublisher) PublishBatch(events []core.OrderEvent) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, event := range events {
		data, err := EncodeEvent(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:     p.topic,
			Partition: p.partition,
			Key:       sarama.StringEncoder(event.OrderID),
			Value:     sarama.ByteEncoder(data),
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("failed to send %d events to Kafka: %w", len(msgs), err)
	}
	return nil
}

// Close closes the producer
func (p *EventPublisher) Close() error {
	return p.producer.Close()
}
