package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is the explicit handle around a Backend. It serializes commit
// notification so live subscribers observe changes in commit order, and it
// hands out per-resource-type Collection views.
type Store struct {
	backend Backend
	app     string

	mu      sync.Mutex
	wakeups map[string]map[*Subscription]chan struct{} // collection -> subscribers
	closed  bool
}

// New wraps an opened backend. app prefixes collection names following the
// `<app>_<resourcetype>` convention shared with the remote server.
func New(backend Backend, app string) *Store {
	return &Store{
		backend: backend,
		app:     app,
		wakeups: make(map[string]map[*Subscription]chan struct{}),
	}
}

// Backend exposes the underlying engine for meta access by the replication
// checkpoints. Domain code never touches it.
func (s *Store) Backend() Backend { return s.backend }

// Close releases the backend and stops every live subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*Subscription, 0)
	for _, m := range s.wakeups {
		for sub := range m {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	return s.backend.Close()
}

// Collection returns the view over one resource type. The collection name
// is `<app>_<resourcetype>` lowercased.
func (s *Store) Collection(resourceType string) *Collection {
	return &Collection{
		store: s,
		name:  s.app + "_" + strings.ToLower(resourceType),
	}
}

// CollectionByName returns a view over an explicit collection name, used by
// the sync server which receives names over the wire.
func (s *Store) CollectionByName(name string) *Collection {
	return &Collection{store: s, name: name}
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.wakeups[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) subscribe(collection string, sub *Subscription) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{}, 1)
	if s.wakeups[collection] == nil {
		s.wakeups[collection] = make(map[*Subscription]chan struct{})
	}
	s.wakeups[collection][sub] = ch
	return ch
}

func (s *Store) unsubscribe(collection string, sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wakeups[collection], sub)
}

// Collection is a named document collection. All operations delegate to the
// store's backend; Put and Remove additionally wake live subscribers.
type Collection struct {
	store *Store
	name  string
}

// Name returns the wire-level collection name.
func (c *Collection) Name() string { return c.name }

// Put inserts or replaces a document by id under the optimistic-concurrency
// contract. doc.ID must be set; doc.Rev must match the stored revision when
// the id exists (0 for a fresh insert). The stored envelope with its new
// revision and sequence is returned.
func (c *Collection) Put(ctx context.Context, doc *Document) (*Document, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("put: missing document id")
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	stored, err := c.store.backend.Put(ctx, c.name, doc)
	if err != nil {
		return nil, err
	}
	c.store.notify(c.name)
	return stored, nil
}

// Get returns the current document or ErrNotFound. Tombstones read as
// ErrNotFound at this level; replication inspects them through Changes.
func (c *Collection) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := c.store.backend.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, ErrNotFound
	}
	return doc, nil
}

// GetAny returns the current envelope even when it is a tombstone. Used by
// the replication engine to resolve conflicts against deleted documents.
func (c *Collection) GetAny(ctx context.Context, id string) (*Document, error) {
	return c.store.backend.Get(ctx, c.name, id)
}

// Remove writes a tombstone for id under the same revision contract as Put.
func (c *Collection) Remove(ctx context.Context, id string, rev int64) (*Document, error) {
	cur, err := c.store.backend.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	if cur.Deleted {
		return nil, ErrNotFound
	}
	stored, err := c.store.backend.Put(ctx, c.name, &Document{
		ID:        id,
		Rev:       rev,
		Deleted:   true,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	c.store.notify(c.name)
	return stored, nil
}

// PutRaw writes a full envelope, tombstones included, under the same
// optimistic revision contract as Put. The replication engine applies
// remote changes through it so remote writes race local writers on equal
// terms.
func (c *Collection) PutRaw(ctx context.Context, doc *Document) (*Document, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("put: missing document id")
	}
	stored, err := c.store.backend.Put(ctx, c.name, doc)
	if err != nil {
		return nil, err
	}
	c.store.notify(c.name)
	return stored, nil
}

// List returns non-tombstoned documents whose id falls in the half-open
// range [start, end), in lexicographic id order. Empty bounds are open.
// limit <= 0 means no limit.
func (c *Collection) List(ctx context.Context, start, end string, limit int) ([]*Document, error) {
	return c.store.backend.List(ctx, c.name, start, end, limit)
}

// Changes returns the feed entries committed strictly after since, in
// commit order, together with the sequence to resume from.
func (c *Collection) Changes(ctx context.Context, since int64, limit int) ([]Change, int64, error) {
	return c.store.backend.Changes(ctx, c.name, since, limit)
}

// UpdateSeq returns the latest committed sequence of the collection.
func (c *Collection) UpdateSeq(ctx context.Context) (int64, error) {
	return c.store.backend.UpdateSeq(ctx, c.name)
}

// Subscription is a live change feed. Entries arrive on C in commit order
// starting strictly after the requested sequence. Cancel is idempotent and
// never aborts writes already committed.
type Subscription struct {
	C <-chan Change

	cancelOnce sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
}

// Cancel stops the subscription and closes C after the pump drains.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancel)
	<-s.done
}

// Subscribe starts a live change feed from the given sequence. The feed
// first catches up through the stored history, then follows new commits
// until cancelled.
func (c *Collection) Subscribe(ctx context.Context, since int64) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Change)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}
	wake := c.store.subscribe(c.name, sub)

	go func() {
		defer close(sub.done)
		defer close(out)
		defer c.store.unsubscribe(c.name, sub)

		pos := since
		for {
			batch, last, err := c.store.backend.Changes(ctx, c.name, pos, 256)
			if err != nil {
				return
			}
			for _, change := range batch {
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
			if last > pos {
				pos = last
				continue
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub
}
