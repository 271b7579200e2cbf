package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/lobook/pkg/core"
	"github.com/erain9/lobook/pkg/feed"
	"github.com/erain9/lobook/pkg/logging"
	"github.com/erain9/lobook/pkg/messaging"
	"github.com/rs/zerolog"
)

// eventSource is what the daemon needs from feed.EventConsumer
type eventSource interface {
	Consume(ctx context.Context, offset int64, handler feed.Handler) error
	Close() error
}

// daemon drives one book: feed events in, book updates out, snapshots on a
// timer
type daemon struct {
	name     string
	book     *core.OrderBook
	source   eventSource
	sender   messaging.MessageSender
	store    core.SnapshotStore
	interval time.Duration

	// mu makes a snapshot and its cursor describe the same point in the feed.
	// A negative cursor means nothing was consumed yet and a restart should
	// use the consumer's initial offset.
	mu     sync.Mutex
	cursor int64
}

// restore loads the last snapshot into the book and returns the feed offset
// to resume from, or -1 to use the consumer's initial offset
func (d *daemon) restore(ctx context.Context) (int64, error) {
	d.cursor = -1
	if d.store == nil {
		return -1, nil
	}

	snap, err := d.store.LoadSnapshot(ctx, d.name)
	if errors.Is(err, core.ErrSnapshotNotFound) {
		zerolog.Ctx(ctx).Info().Str("book", d.name).Msg("No snapshot found, starting empty")
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := d.book.Restore(ctx, snap); err != nil {
		return 0, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	d.cursor = snap.Cursor
	return snap.Cursor, nil
}

// handle applies one feed event. Rejected events are logged by the book and
// skipped; they never stop the feed.
func (d *daemon) handle(ctx context.Context, offset int64, event core.OrderEvent) error {
	d.mu.Lock()
	done, err := d.book.Apply(ctx, event)
	d.cursor = offset + 1
	d.mu.Unlock()

	if err != nil {
		return nil
	}

	if err := d.sender.SendBookUpdate(ctx, done.ToBookUpdate(d.name)); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().
			Err(err).
			Uint64("seq", done.Seq).
			Msg("Failed to publish book update")
	}
	return nil
}

// snapshot saves the book together with the feed position it reflects
func (d *daemon) snapshot(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	d.mu.Lock()
	snap := d.book.Snapshot()
	snap.Cursor = d.cursor
	d.mu.Unlock()

	if err := d.store.SaveSnapshot(ctx, d.name, snap); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().
		Str("book", d.name).
		Uint64("seq", snap.Seq).
		Int64("cursor", snap.Cursor).
		Int("orders", snap.Len()).
		Msg("Snapshot saved")
	return nil
}

func (d *daemon) snapshotLoop(ctx context.Context) {
	if d.store == nil || d.interval <= 0 {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.snapshot(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("book", d.name).Msg("Periodic snapshot failed")
			}
		}
	}
}

// run restores the book, then consumes the feed until ctx is done. A final
// snapshot is taken on the way out.
func (d *daemon) run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	offset, err := d.restore(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Str("book", d.name).
		Uint64("seq", d.book.Seq()).
		Int("orders", d.book.Len()).
		Int64("offset", offset).
		Msg("Book ready")

	loopCtx, stopLoop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.snapshotLoop(loopCtx)
	}()

	consumeErr := d.source.Consume(ctx, offset, d.handle)
	stopLoop()
	wg.Wait()

	// ctx is usually cancelled by now
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.snapshot(finalCtx); err != nil {
		logger.Error().Err(err).Msg("Final snapshot failed")
	}

	return consumeErr
}
