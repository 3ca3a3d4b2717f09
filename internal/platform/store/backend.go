package store

import "context"

// Backend is the capability interface a storage engine must provide for the
// Store to build collections on top of it. Implementations are selected once
// at startup (bolt, memory or postgres) and own their storage exclusively.
//
// Put enforces the optimistic-concurrency contract atomically: when a
// document with doc.ID already exists, the write succeeds only if doc.Rev
// equals the stored revision; otherwise it fails with ErrConflict. On
// success the backend assigns the next revision and commit sequence and
// returns the stored envelope. Tombstones are regular envelopes with
// Deleted set and no body; they are retained so deletions replicate.
type Backend interface {
	Put(ctx context.Context, collection string, doc *Document) (*Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	List(ctx context.Context, collection, start, end string, limit int) ([]*Document, error)
	Changes(ctx context.Context, collection string, since int64, limit int) ([]Change, int64, error)
	UpdateSeq(ctx context.Context, collection string) (int64, error)

	GetMeta(ctx context.Context, key string) ([]byte, error)
	PutMeta(ctx context.Context, key string, value []byte) error

	Close() error
}

// inRange reports whether id falls in the half-open range [start, end).
// Empty bounds are open.
func inRange(id, start, end string) bool {
	if start != "" && id < start {
		return false
	}
	if end != "" && id >= end {
		return false
	}
	return true
}
