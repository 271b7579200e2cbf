package core

import "context"

// SnapshotStore defines the interface for the places a book's snapshots are
// persisted to. LoadSnapshot returns ErrSnapshotNotFound when no snapshot
// has been saved under book.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, book string, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, book string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, book string) error
	Close() error
}
