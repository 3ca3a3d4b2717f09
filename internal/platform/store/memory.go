package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps every collection in process memory. It backs tests
// and the configured fallback when the embedded database cannot open.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	meta        map[string][]byte
}

type memoryCollection struct {
	docs map[string]*Document
	feed []*Document
	seq  int64
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]*memoryCollection),
		meta:        make(map[string][]byte),
	}
}

func (m *MemoryBackend) Close() error { return nil }

func (m *MemoryBackend) collection(name string, create bool) *memoryCollection {
	col := m.collections[name]
	if col == nil && create {
		col = &memoryCollection{docs: make(map[string]*Document)}
		m.collections[name] = col
	}
	return col
}

func (m *MemoryBackend) Put(_ context.Context, collection string, doc *Document) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.collection(collection, true)
	var currentRev int64
	if current, ok := col.docs[doc.ID]; ok {
		currentRev = current.Rev
	}
	if doc.Rev != currentRev {
		return nil, fmt.Errorf("%w: %s has rev %d, caller sent %d", ErrConflict, doc.ID, currentRev, doc.Rev)
	}

	col.seq++
	stored := *doc
	stored.Rev = currentRev + 1
	stored.Seq = col.seq
	if stored.Deleted {
		stored.Body = nil
	} else {
		stored.Body = append([]byte(nil), doc.Body...)
	}
	col.docs[doc.ID] = &stored
	col.feed = append(col.feed, &stored)

	out := stored
	return &out, nil
}

func (m *MemoryBackend) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col := m.collection(collection, false)
	if col == nil {
		return nil, ErrNotFound
	}
	doc, ok := col.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *doc
	return &out, nil
}

func (m *MemoryBackend) List(_ context.Context, collection, start, end string, limit int) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col := m.collection(collection, false)
	if col == nil {
		return nil, nil
	}

	ids := make([]string, 0, len(col.docs))
	for id, doc := range col.docs {
		if doc.Deleted || !inRange(id, start, end) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var result []*Document
	for _, id := range ids {
		out := *col.docs[id]
		result = append(result, &out)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryBackend) Changes(_ context.Context, collection string, since int64, limit int) ([]Change, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col := m.collection(collection, false)
	if col == nil {
		return nil, since, nil
	}

	var (
		result []Change
		last   = since
	)
	for _, doc := range col.feed {
		if doc.Seq <= since {
			continue
		}
		result = append(result, changeFromDocument(doc))
		last = doc.Seq
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, last, nil
}

func (m *MemoryBackend) UpdateSeq(_ context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col := m.collection(collection, false)
	if col == nil {
		return 0, nil
	}
	return col.seq, nil
}

func (m *MemoryBackend) GetMeta(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.meta[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryBackend) PutMeta(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.meta[key] = append([]byte(nil), value...)
	return nil
}
