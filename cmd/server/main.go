package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/erain9/lobook/config"
	"github.com/erain9/lobook/pkg/backend/memory"
	"github.com/erain9/lobook/pkg/backend/pebble"
	redisbackend "github.com/erain9/lobook/pkg/backend/redis"
	"github.com/erain9/lobook/pkg/core"
	"github.com/erain9/lobook/pkg/feed"
	"github.com/erain9/lobook/pkg/logging"
	"github.com/erain9/lobook/pkg/messaging"
	"github.com/erain9/lobook/pkg/messaging/kafka"
	"github.com/erain9/lobook/pkg/otel"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(logger.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	cleanup, err := otel.Init(otel.Config{
		ServiceName:      otel.ServiceBook,
		ServiceVersion:   cfg.Telemetry.ServiceVersion,
		Endpoint:         cfg.Telemetry.Endpoint,
		MetricInterval:   cfg.Telemetry.MetricInterval,
		CollectorEnabled: cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()

	if cfg.Telemetry.Enabled {
		if err := otel.StartRuntimeMetrics(0); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	store, err := newSnapshotStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	if store != nil {
		defer store.Close()
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create market data publisher")
	}
	defer sender.Close()

	source, err := feed.NewEventConsumer(feed.Config{
		Brokers:    cfg.Kafka.Brokers,
		Topic:      cfg.Kafka.EventsTopic,
		Partition:  cfg.Kafka.Partition,
		FromOldest: cfg.Kafka.FromOldest,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create feed consumer")
	}
	defer source.Close()

	var opts []core.Option
	if cfg.Book.AmendToZeroCancels {
		opts = append(opts, core.WithAmendToZeroCancels())
	}

	d := &daemon{
		name:     cfg.Book.Name,
		book:     core.NewOrderBook(opts...),
		source:   source,
		sender:   sender,
		store:    store,
		interval: cfg.Snapshot.Interval,
	}

	logger.Info().
		Str("book", cfg.Book.Name).
		Strs("brokers", cfg.Kafka.Brokers).
		Str("events_topic", cfg.Kafka.EventsTopic).
		Str("snapshot_backend", cfg.Snapshot.Backend).
		Msg("Starting order book daemon")

	if err := d.run(ctx); err != nil {
		logger.Error().Err(err).Msg("Daemon stopped with error")
		return
	}

	logger.Info().Msg("Shutdown complete")
}

func newSnapshotStore(cfg *config.Config) (core.SnapshotStore, error) {
	switch cfg.Snapshot.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return memory.NewMemoryBackend(), nil
	case config.BackendRedis:
		redisbackend.SetDefaultRedisOptions(&redisbackend.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		zapLogger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create zap logger: %w", err)
		}
		return redisbackend.NewRedisBackend(redisbackend.GetRedisClient(), cfg.Redis.Prefix, zapLogger), nil
	case config.BackendPebble:
		return pebble.Open(cfg.Snapshot.Dir, cfg.Snapshot.History)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
}

// newSender publishes to Kafka when an updates topic is configured, and
// otherwise keeps updates in memory
func newSender(cfg *config.Config, logger zerolog.Logger) (messaging.MessageSender, error) {
	if cfg.Kafka.UpdatesTopic == "" {
		logger.Warn().Msg("No updates topic configured, book updates are not published")
		return messaging.NewMockMessageSender(), nil
	}
	return kafka.NewKafkaMessageSender(cfg.Kafka.Brokers, cfg.Kafka.UpdatesTopic)
}
