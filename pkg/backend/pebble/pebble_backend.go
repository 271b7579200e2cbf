package pebble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/erain9/lobook/pkg/core"
	"github.com/erain9/lobook/pkg/otel"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultHistory is the number of past snapshots kept per book
const DefaultHistory = 8

// PebbleBackend implements core.SnapshotStore on a local Pebble database.
// The latest snapshot of a book lives under snapshot/{book}; every save is
// also kept under history/{len(book)}:{book}/{seq} until pruned. The length
// keeps one book's history range from covering another's, e.g. "A" and "A/B".
type PebbleBackend struct {
	db      *pebble.DB
	history int
}

// Open opens (or creates) the database in dir. history is the number of
// past snapshots kept per book; zero or less keeps DefaultHistory.
func Open(dir string, history int) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	if history <= 0 {
		history = DefaultHistory
	}
	return &PebbleBackend{db: db, history: history}, nil
}

// SaveSnapshot replaces the latest snapshot of book and appends it to the
// book's history, in one synced batch
func (b *PebbleBackend) SaveSnapshot(ctx context.Context, book string, snap *core.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", core.ErrInvalidSnapshot)
	}

	_, span := otel.StartBookSpan(ctx, otel.SpanSaveSnapshot,
		attribute.String(otel.AttributeBookName, book),
		attribute.Int64(otel.AttributeBookSeq, int64(snap.Seq)),
		attribute.Int(otel.AttributeSnapshotSize, snap.Len()),
	)
	defer span.End()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	seqs, err := b.History(book)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(latestKey(book), data, nil); err != nil {
		return err
	}
	if err := batch.Set(historyKey(book, snap.Seq), data, nil); err != nil {
		return err
	}

	// seqs is ascending; keep room for the one just written
	if !containsSeq(seqs, snap.Seq) {
		seqs = append(seqs, snap.Seq)
	}
	for len(seqs) > b.history {
		if err := batch.Delete(historyKey(book, seqs[0]), nil); err != nil {
			return err
		}
		seqs = seqs[1:]
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", book, err)
	}

	log.Debug().
		Str("book", book).
		Uint64("seq", snap.Seq).
		Int("bytes", len(data)).
		Msg("Snapshot saved to pebble")
	return nil
}

// LoadSnapshot returns the latest snapshot of book
func (b *PebbleBackend) LoadSnapshot(ctx context.Context, book string) (*core.Snapshot, error) {
	_, span := otel.StartBookSpan(ctx, otel.SpanLoadSnapshot,
		attribute.String(otel.AttributeBookName, book),
	)
	defer span.End()

	return b.load(latestKey(book))
}

// LoadSnapshotAt returns the snapshot of book saved at seq
func (b *PebbleBackend) LoadSnapshotAt(ctx context.Context, book string, seq uint64) (*core.Snapshot, error) {
	return b.load(historyKey(book, seq))
}

func (b *PebbleBackend) load(key []byte) (*core.Snapshot, error) {
	val, closer, err := b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, core.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var snap core.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSnapshot, err)
	}
	return &snap, nil
}

// History returns the sequence numbers of the kept snapshots of book,
// oldest first
func (b *PebbleBackend) History(book string) ([]uint64, error) {
	prefix := historyPrefix(book)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var seqs []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		var seq uint64
		if _, err := fmt.Sscanf(string(bytes.TrimPrefix(iter.Key(), prefix)), "%d", &seq); err != nil {
			return nil, fmt.Errorf("bad history key %q: %w", iter.Key(), err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, iter.Error()
}

// DeleteSnapshot removes the latest snapshot and the history of book
func (b *PebbleBackend) DeleteSnapshot(ctx context.Context, book string) error {
	prefix := historyPrefix(book)

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(latestKey(book), nil); err != nil {
		return err
	}
	if err := batch.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Close closes the database
func (b *PebbleBackend) Close() error {
	return b.db.Close()
}

func latestKey(book string) []byte {
	return []byte(fmt.Sprintf("snapshot/%s", book))
}

func historyPrefix(book string) []byte {
	return []byte(fmt.Sprintf("history/%d:%s/", len(book), book))
}

func historyKey(book string, seq uint64) []byte {
	return append(historyPrefix(book), fmt.Sprintf("%020d", seq)...)
}

// prefixEnd returns the smallest key greater than every key with prefix
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func containsSeq(seqs []uint64, seq uint64) bool {
	for _, s := range seqs {
		if s == seq {
			return true
		}
	}
	return false
}
