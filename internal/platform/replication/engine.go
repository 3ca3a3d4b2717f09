package replication

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// Engine tracks one replication handle per collection against a single
// remote endpoint.
type Engine struct {
	st     *store.Store
	remote Remote
	log    zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewEngine builds an engine over the local store and remote client.
func NewEngine(st *store.Store, remote Remote, logger zerolog.Logger) *Engine {
	return &Engine{
		st:      st,
		remote:  remote,
		log:     logger,
		handles: make(map[string]*Handle),
	}
}

// Start begins replicating one resource type. Idempotent: a second Start
// for a collection with a live handle returns that handle. Non-continuous
// starts fail fast when the first connection attempt fails.
func (e *Engine) Start(ctx context.Context, resourceType string, opts Options) (*Handle, error) {
	col := e.st.Collection(resourceType)

	e.mu.Lock()
	if existing, ok := e.handles[col.Name()]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	h := newHandle(e.st, col, e.remote, opts, e.log)
	e.handles[col.Name()] = h
	e.mu.Unlock()

	if err := h.start(ctx); err != nil {
		e.mu.Lock()
		// A concurrent Cancel may already have removed the entry and a
		// fresh Start replaced it; only forget our own handle.
		if e.handles[col.Name()] == h {
			delete(e.handles, col.Name())
		}
		e.mu.Unlock()
		return nil, err
	}
	return h, nil
}

// Status reports the handle for a collection name; ErrNotFound after
// cancellation or for collections never started.
func (e *Engine) Status(ctx context.Context, collection string) (Status, error) {
	e.mu.Lock()
	h, ok := e.handles[collection]
	e.mu.Unlock()
	if !ok {
		return Status{}, ErrNotFound
	}
	return h.Status(ctx), nil
}

// Statuses reports every live handle.
func (e *Engine) Statuses(ctx context.Context) []Status {
	e.mu.Lock()
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	statuses := make([]Status, 0, len(handles))
	for _, h := range handles {
		statuses = append(statuses, h.Status(ctx))
	}
	return statuses
}

// Cancel stops and forgets the handle for a collection. Idempotent at the
// handle level; a second Cancel for a removed collection reports
// ErrNotFound.
func (e *Engine) Cancel(collection string) error {
	e.mu.Lock()
	h, ok := e.handles[collection]
	delete(e.handles, collection)
	e.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	h.Cancel()
	return nil
}

// Close cancels every handle.
func (e *Engine) Close() {
	e.mu.Lock()
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.handles = make(map[string]*Handle)
	e.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Replication is the tagged sync-enabled/disabled variant carried through
// startup: either Disabled (no engine, every accessor a no-op) or Active
// around a running engine. It replaces duck-typed stand-in objects whose
// only purpose is satisfying a cancel call.
type Replication struct {
	engine *Engine
}

// Disabled returns the inert variant.
func Disabled() Replication { return Replication{} }

// Active wraps a running engine.
func Active(engine *Engine) Replication { return Replication{engine: engine} }

// Enabled reports whether replication is active.
func (r Replication) Enabled() bool { return r.engine != nil }

// Statuses reports all handle statuses; nil when disabled.
func (r Replication) Statuses(ctx context.Context) []Status {
	if r.engine == nil {
		return nil
	}
	return r.engine.Statuses(ctx)
}

// Close cancels the engine when active.
func (r Replication) Close() {
	if r.engine != nil {
		r.engine.Close()
	}
}
