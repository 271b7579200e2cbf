package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/erain9/lobook/pkg/core"
	"github.com/erain9/lobook/pkg/logging"
	"github.com/rs/zerolog/log"
)

// Handler is called for each event, in partition order. The context carries
// the event id ("topic/partition@offset") for logging.
type Handler func(ctx context.Context, offset int64, event core.OrderEvent) error

// EventConsumer reads order events from one topic partition
type EventConsumer struct {
	consumer  sarama.Consumer
	topic     string
	partition int32
	initial   int64

	closeOnce sync.Once
}

// NewEventConsumer connects to the brokers in cfg
func NewEventConsumer(cfg Config) (*EventConsumer, error) {
	cfg = cfg.withDefaults()
	config := consumerConfig(cfg.FromOldest)

	consumer, err := newConsumer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &EventConsumer{
		consumer:  consumer,
		topic:     cfg.Topic,
		partition: cfg.Partition,
		initial:   config.Consumer.Offsets.Initial,
	}, nil
}

// Consume delivers events from offset (or the configured initial offset
// when offset < 0) to handler until ctx is done. Messages that fail to
// decode are logged and skipped; a handler error stops consumption.
func (c *EventConsumer) Consume(ctx context.Context, offset int64, handler Handler) error {
	if offset < 0 {
		offset = c.initial
	}

	pc, err := c.consumer.ConsumePartition(c.topic, c.partition, offset)
	if err != nil {
		return fmt.Errorf("failed to consume %s/%d: %w", c.topic, c.partition, err)
	}
	defer pc.Close()

	log.Info().
		Str("topic", c.topic).
		Int32("partition", c.partition).
		Int64("offset", offset).
		Msg("Consuming order events")

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}

			msgCtx := logging.WithEventID(ctx, fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset))
			event, err := DecodeEvent(msg.Value)
			if err != nil {
				logger := logging.FromContext(msgCtx)
				logger.Warn().Err(err).Msg("Skipping undecodable feed message")
				continue
			}

			if err := handler(msgCtx, msg.Offset, event); err != nil {
				return err
			}

		case consumerErr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			log.Error().Err(consumerErr.Err).
				Str("topic", consumerErr.Topic).
				Int32("partition", consumerErr.Partition).
				Msg("Kafka consumer error")
		}
	}
}

// Close closes the underlying consumer
func (c *EventConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.consumer.Close()
	})
	return err
}
