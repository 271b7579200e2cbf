package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

const (
	defaultRedisAddr = "localhost:6379"
	defaultKafkaAddr = "localhost:9092"
)

// RedisAddr returns LOBOOK_TEST_REDIS or the local default
func RedisAddr() string {
	if addr := os.Getenv("LOBOOK_TEST_REDIS"); addr != "" {
		return addr
	}
	return defaultRedisAddr
}

// KafkaAddr returns LOBOOK_TEST_KAFKA or the local default
func KafkaAddr() string {
	if addr := os.Getenv("LOBOOK_TEST_KAFKA"); addr != "" {
		return addr
	}
	return defaultKafkaAddr
}

// RedisClient returns a client for a flushed test database, skipping the
// test if Redis is unavailable. The client is closed when the test ends.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr := RedisAddr()
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping test: Redis not available at %s - %v", addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("Failed to flush Redis DB: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

// SkipIfKafkaUnavailable skips the test unless a Kafka broker answers a
// metadata request
func SkipIfKafkaUnavailable(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr := KafkaAddr()
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Skipf("Skipping test: Kafka not available at %s - %v", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		t.Skipf("Skipping test: Kafka at %s is not responding correctly - %v", addr, err)
	}
	return addr
}

// CreateTopic creates a single-partition topic for a test, ignoring the
// error if it already exists
func CreateTopic(t *testing.T, addr, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial Kafka: %v", err)
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("Create topic %s: %v", topic, err)
	}
}
