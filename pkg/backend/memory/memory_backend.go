package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/erain9/lobook/pkg/core"
)

var errClosed = errors.New("memory backend is closed")

// MemoryBackend implements core.SnapshotStore in process memory. Snapshots
// are held encoded so callers never share state with the store.
type MemoryBackend struct {
	sync.RWMutex
	snapshots map[string][]byte
	closed    bool
}

// NewMemoryBackend creates a new in-memory snapshot store
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		snapshots: make(map[string][]byte),
	}
}

// SaveSnapshot replaces the snapshot stored for book
func (b *MemoryBackend) SaveSnapshot(ctx context.Context, book string, snap *core.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", core.ErrInvalidSnapshot)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	b.Lock()
	defer b.Unlock()

	if b.closed {
		return errClosed
	}
	b.snapshots[book] = data
	return nil
}

// LoadSnapshot returns the snapshot stored for book
func (b *MemoryBackend) LoadSnapshot(ctx context.Context, book string) (*core.Snapshot, error) {
	b.RLock()
	data, ok := b.snapshots[book]
	closed := b.closed
	b.RUnlock()

	if closed {
		return nil, errClosed
	}
	if !ok {
		return nil, core.ErrSnapshotNotFound
	}

	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot removes the snapshot stored for book, if any
func (b *MemoryBackend) DeleteSnapshot(ctx context.Context, book string) error {
	b.Lock()
	defer b.Unlock()

	if b.closed {
		return errClosed
	}
	delete(b.snapshots, book)
	return nil
}

// Books returns the names of the books with a stored snapshot, sorted
func (b *MemoryBackend) Books() []string {
	b.RLock()
	defer b.RUnlock()

	books := make([]string, 0, len(b.snapshots))
	for book := range b.snapshots {
		books = append(books, book)
	}
	sort.Strings(books)
	return books
}

// Close drops every stored snapshot
func (b *MemoryBackend) Close() error {
	b.Lock()
	defer b.Unlock()

	b.snapshots = nil
	b.closed = true
	return nil
}
