package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/erain9/lobook/pkg/core"
	"github.com/erain9/lobook/pkg/otel"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// RedisBackend implements core.SnapshotStore on Redis. A book's snapshot is
// spread over a few keys:
//
//	{prefix}:{book}:meta            HASH  seq, taken_at, cursor
//	{prefix}:{book}:bids            ZSET  member = price, score = price
//	{prefix}:{book}:asks            ZSET
//	{prefix}:{book}:bids:{price}    LIST  orders of the level, FIFO
//	{prefix}:{book}:asks:{price}    LIST
//
// Saves are written in one MULTI/EXEC so readers never see half a snapshot.
type RedisBackend struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend
func NewRedisBackend(client *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// SaveSnapshot replaces the snapshot stored for book
func (b *RedisBackend) SaveSnapshot(ctx context.Context, book string, snap *core.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", core.ErrInvalidSnapshot)
	}

	ctx, span := otel.StartBookSpan(ctx, otel.SpanSaveSnapshot,
		attribute.String(otel.AttributeBookName, book),
		attribute.Int64(otel.AttributeBookSeq, int64(snap.Seq)),
		attribute.Int(otel.AttributeSnapshotSize, snap.Len()),
	)
	defer span.End()

	stale, err := b.levelKeys(ctx, book)
	if err != nil {
		return err
	}

	metaKey := b.metaKey(book)
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := append([]string{metaKey, b.sideKey(book, core.Bid), b.sideKey(book, core.Ask)}, stale...)
		pipe.Del(ctx, keys...)

		pipe.HSet(ctx, metaKey,
			"seq", strconv.FormatUint(snap.Seq, 10),
			"taken_at", snap.TakenAt.UTC().Format(time.RFC3339Nano),
			"cursor", strconv.FormatInt(snap.Cursor, 10),
		)

		for side, levels := range map[core.Side][]core.LevelSnapshot{core.Bid: snap.Bids, core.Ask: snap.Asks} {
			sideKey := b.sideKey(book, side)
			for _, level := range levels {
				price := level.Price.String()
				pipe.ZAdd(ctx, sideKey, redis.Z{
					Score:  level.Price.Float64(),
					Member: price,
				})

				orders := make([]interface{}, 0, len(level.Orders))
				for _, order := range level.Orders {
					data, err := json.Marshal(order)
					if err != nil {
						return fmt.Errorf("failed to encode order %q: %w", order.OrderID, err)
					}
					orders = append(orders, data)
				}
				if len(orders) > 0 {
					pipe.RPush(ctx, b.levelKey(book, side, price), orders...)
				}
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to save snapshot",
			zap.String("book", book),
			zap.Uint64("seq", snap.Seq),
			zap.Error(err))
		return fmt.Errorf("failed to save snapshot for %s: %w", book, err)
	}

	b.logger.Debug("snapshot saved",
		zap.String("book", book),
		zap.Uint64("seq", snap.Seq),
		zap.Int("bid_levels", len(snap.Bids)),
		zap.Int("ask_levels", len(snap.Asks)))
	return nil
}

// LoadSnapshot returns the snapshot stored for book, or
// core.ErrSnapshotNotFound
func (b *RedisBackend) LoadSnapshot(ctx context.Context, book string) (*core.Snapshot, error) {
	ctx, span := otel.StartBookSpan(ctx, otel.SpanLoadSnapshot,
		attribute.String(otel.AttributeBookName, book),
	)
	defer span.End()

	meta, err := b.client.HGetAll(ctx, b.metaKey(book)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot meta for %s: %w", book, err)
	}
	if len(meta) == 0 {
		return nil, core.ErrSnapshotNotFound
	}

	snap := &core.Snapshot{}
	if snap.Seq, err = strconv.ParseUint(meta["seq"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: seq %q", core.ErrInvalidSnapshot, meta["seq"])
	}
	if snap.TakenAt, err = time.Parse(time.RFC3339Nano, meta["taken_at"]); err != nil {
		return nil, fmt.Errorf("%w: taken_at %q", core.ErrInvalidSnapshot, meta["taken_at"])
	}
	if snap.Cursor, err = strconv.ParseInt(meta["cursor"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: cursor %q", core.ErrInvalidSnapshot, meta["cursor"])
	}

	if snap.Bids, err = b.loadSide(ctx, book, core.Bid); err != nil {
		return nil, err
	}
	if snap.Asks, err = b.loadSide(ctx, book, core.Ask); err != nil {
		return nil, err
	}

	otel.AddAttributes(span,
		attribute.Int64(otel.AttributeBookSeq, int64(snap.Seq)),
		attribute.Int(otel.AttributeSnapshotSize, snap.Len()),
	)
	return snap, nil
}

func (b *RedisBackend) loadSide(ctx context.Context, book string, side core.Side) ([]core.LevelSnapshot, error) {
	sideKey := b.sideKey(book, side)

	// bids are stored ascending by score like asks; read them best-first
	var prices []string
	var err error
	if side == core.Bid {
		prices, err = b.client.ZRevRange(ctx, sideKey, 0, -1).Result()
	} else {
		prices, err = b.client.ZRange(ctx, sideKey, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s levels for %s: %w", side, book, err)
	}
	if len(prices) == 0 {
		return nil, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(prices))
	for i, price := range prices {
		cmds[i] = pipe.LRange(ctx, b.levelKey(book, side, price), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read %s orders for %s: %w", side, book, err)
	}

	levels := make([]core.LevelSnapshot, 0, len(prices))
	for i, price := range prices {
		p, err := fpdecimal.FromString(price)
		if err != nil {
			return nil, fmt.Errorf("%w: level price %q", core.ErrInvalidSnapshot, price)
		}

		raw := cmds[i].Val()
		level := core.LevelSnapshot{Price: p, Orders: make([]core.OrderState, 0, len(raw))}
		for _, data := range raw {
			var order core.OrderState
			if err := json.Unmarshal([]byte(data), &order); err != nil {
				return nil, fmt.Errorf("%w: level %s: %v", core.ErrInvalidSnapshot, price, err)
			}
			level.Orders = append(level.Orders, order)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// DeleteSnapshot removes every key of the snapshot stored for book
func (b *RedisBackend) DeleteSnapshot(ctx context.Context, book string) error {
	keys, err := b.levelKeys(ctx, book)
	if err != nil {
		return err
	}
	keys = append(keys, b.metaKey(book), b.sideKey(book, core.Bid), b.sideKey(book, core.Ask))

	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot for %s: %w", book, err)
	}
	return nil
}

// levelKeys lists the per-level list keys currently stored for book
func (b *RedisBackend) levelKeys(ctx context.Context, book string) ([]string, error) {
	var keys []string
	for _, side := range []core.Side{core.Bid, core.Ask} {
		prices, err := b.client.ZRange(ctx, b.sideKey(book, side), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list %s levels for %s: %w", side, book, err)
		}
		for _, price := range prices {
			keys = append(keys, b.levelKey(book, side, price))
		}
	}
	return keys, nil
}

func (b *RedisBackend) metaKey(book string) string {
	return fmt.Sprintf("%s:%s:meta", b.prefix, book)
}

func (b *RedisBackend) sideKey(book string, side core.Side) string {
	if side == core.Bid {
		return fmt.Sprintf("%s:%s:bids", b.prefix, book)
	}
	return fmt.Sprintf("%s:%s:asks", b.prefix, book)
}

func (b *RedisBackend) levelKey(book string, side core.Side, price string) string {
	return fmt.Sprintf("%s:%s", b.sideKey(book, side), price)
}

// Close closes the Redis client and cleans up resources
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
