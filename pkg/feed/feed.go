// Package feed moves normalized order events over Kafka. One topic
// partition is one ordered event feed for one book.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/lobook/pkg/core"
)

const (
	DefaultBroker    = "localhost:9092"
	DefaultTopic     = "lobook-events"
	DefaultPartition = int32(0)
	maxRetry         = 5
)

// Config selects the feed topic partition
type Config struct {
	Brokers   []string
	Topic     string
	Partition int32
	// FromOldest starts a consumer at the beginning of the partition instead
	// of the newest offset
	FromOldest bool
}

func (c Config) withDefaults() Config {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{DefaultBroker}
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	return c
}

// EncodeEvent serializes an event for the feed
func EncodeEvent(event core.OrderEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order event: %w", err)
	}
	return data, nil
}

// DecodeEvent parses a feed message. Unknown kind and side tags are kept as
// zero values for the book to reject.
func DecodeEvent(data []byte) (core.OrderEvent, error) {
	var event core.OrderEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return core.OrderEvent{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return event, nil
}

// newConsumer and newSyncProducer are overridden in tests
var (
	newConsumer     = sarama.NewConsumer
	newSyncProducer = sarama.NewSyncProducer
)

func consumerConfig(fromOldest bool) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "lobook-feed"
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if fromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return config
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "lobook-feed"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	// events must land on the configured partition to keep their order
	config.Producer.Partitioner = sarama.NewManualPartitioner
	return config
}
