package replication

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// Handle is one running collection replication. It owns two interleaved
// loops while streaming: pull (remote feed -> local store) and push (local
// feed -> remote bulk endpoint), each resuming from its own persisted
// checkpoint.
type Handle struct {
	col    *store.Collection
	st     *store.Store
	remote Remote
	opts   Options
	log    zerolog.Logger

	mu        sync.Mutex
	state     State
	lastErr   error
	pullCkpt  int64
	pushCkpt  int64
	remoteSeq int64

	cancelOnce sync.Once
	cancelFn   context.CancelFunc
	runCtx     context.Context
	done       chan struct{}
}

// newHandle wires the handle's own run context up front so Cancel is safe
// at any point after the handle becomes visible, including while start is
// still talking to the backend or the remote.
func newHandle(st *store.Store, col *store.Collection, remote Remote, opts Options, logger zerolog.Logger) *Handle {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Handle{
		col:      col,
		st:       st,
		remote:   remote,
		opts:     opts.withDefaults(),
		log:      logger.With().Str("component", "replication").Str("collection", col.Name()).Logger(),
		state:    StateIdle,
		cancelFn: cancel,
		runCtx:   runCtx,
		done:     make(chan struct{}),
	}
}

// start performs the fail-fast first connection for non-continuous mode,
// then launches the run loop detached from the caller's context. The
// fail-fast handshake runs under the handle's own context so a concurrent
// Cancel interrupts it instead of waiting it out.
func (h *Handle) start(ctx context.Context) error {
	h.loadCheckpoints(ctx)

	if !h.opts.Continuous {
		h.setState(StateConnecting, nil)
		info, err := h.remote.Handshake(h.runCtx, h.col.Name())
		if err != nil {
			h.finish(err)
			return err
		}
		h.setRemoteSeq(info.UpdateSeq)
	}

	go h.run(h.runCtx)
	return nil
}

// Collection returns the local collection name this handle replicates.
func (h *Handle) Collection() string { return h.col.Name() }

// Cancel transitions the handle to Stopped and releases its resources.
// Idempotent; never aborts writes already committed locally.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(h.cancelFn)
	<-h.done
}

// Wait blocks until the handle reaches Stopped and returns its terminal
// error, if any. Used by one-shot synchronization.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Status reports current state, checkpoints, and pending-change counts in
// both directions.
func (h *Handle) Status(ctx context.Context) Status {
	h.mu.Lock()
	state := h.state
	lastErr := h.lastErr
	pull, push, remoteSeq := h.pullCkpt, h.pushCkpt, h.remoteSeq
	h.mu.Unlock()

	status := Status{
		Collection:     h.col.Name(),
		State:          state.String(),
		PullCheckpoint: pull,
		PushCheckpoint: push,
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	if localSeq, err := h.col.UpdateSeq(ctx); err == nil && localSeq > push {
		status.PendingPush = localSeq - push
	}
	if remoteSeq > pull {
		status.PendingPull = remoteSeq - pull
	}
	return status
}

func (h *Handle) setState(state State, err error) {
	h.mu.Lock()
	h.state = state
	if err != nil {
		h.lastErr = err
	} else if state == StateStreaming {
		h.lastErr = nil
	}
	observer := h.opts.Observer
	h.mu.Unlock()

	if observer != nil {
		observer(Event{Collection: h.col.Name(), State: state, Err: err, Time: time.Now()})
	}
}

func (h *Handle) setRemoteSeq(seq int64) {
	h.mu.Lock()
	h.remoteSeq = seq
	h.mu.Unlock()
}

func (h *Handle) finish(err error) {
	h.setState(StateStopped, err)
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Handle) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			h.finish(nil)
			return
		}

		h.setState(StateConnecting, nil)
		info, err := h.remote.Handshake(ctx, h.col.Name())
		if err == nil {
			attempt = 0
			h.setRemoteSeq(info.UpdateSeq)
			h.setState(StateStreaming, nil)
			err = h.stream(ctx)
			if err == nil {
				// Only one-shot streaming returns cleanly.
				h.finish(nil)
				return
			}
		}

		switch {
		case ctx.Err() != nil:
			h.finish(nil)
			return
		case errors.Is(err, ErrRemoteAuth):
			h.log.Error().Err(err).Msg("replication stopped: remote rejected credentials")
			h.finish(err)
			return
		case !h.opts.Continuous:
			h.finish(err)
			return
		}

		h.setState(StateRetrying, err)
		delay := h.opts.Retry.Backoff(attempt)
		attempt++
		h.log.Warn().Err(err).Dur("backoff", delay).Msg("replication retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			h.finish(nil)
			return
		}
	}
}

// stream runs the pull and push directions. Continuous mode interleaves
// both until the context is cancelled or a direction errors; one-shot mode
// drains each direction once and returns nil.
func (h *Handle) stream(ctx context.Context) error {
	if !h.opts.Continuous {
		for {
			n, err := h.pullOnce(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
		for {
			n, err := h.pushOnce(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.pullLoop(ctx) })
	g.Go(func() error { return h.pushLoop(ctx) })
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = fmt.Errorf("streaming ended unexpectedly")
	}
	return err
}

func (h *Handle) pullLoop(ctx context.Context) error {
	for {
		n, err := h.pullOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			select {
			case <-time.After(h.opts.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (h *Handle) pushLoop(ctx context.Context) error {
	for {
		n, err := h.pushOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			select {
			case <-time.After(h.opts.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// pullOnce fetches one page of the remote feed and folds it into the local
// store, then persists the pull checkpoint.
func (h *Handle) pullOnce(ctx context.Context) (int, error) {
	h.mu.Lock()
	since := h.pullCkpt
	h.mu.Unlock()

	page, err := h.remote.Changes(ctx, h.col.Name(), since, h.opts.BatchSize)
	if errors.Is(err, store.ErrMalformedData) {
		// Skip past the garbled page so a persistently broken feed cannot
		// stall the pull direction. The jump is bounded by the highest
		// remote seq seen, so nothing beyond the known feed is skipped;
		// documents in the skipped range are lost until rewritten.
		h.mu.Lock()
		remoteSeq := h.remoteSeq
		h.mu.Unlock()
		next := since + int64(h.opts.BatchSize)
		if next > remoteSeq {
			next = remoteSeq
		}
		if next <= since {
			h.log.Warn().Err(err).Msg("skipping malformed remote batch")
			return 0, nil
		}
		h.mu.Lock()
		h.pullCkpt = next
		h.mu.Unlock()
		h.saveCheckpoint(ctx, "pull", next)
		h.log.Warn().Err(err).
			Int64("from", since).Int64("to", next).
			Msg("skipping malformed remote batch")
		return int(next - since), nil
	}
	if err != nil {
		return 0, err
	}
	if page.LastSeq <= since {
		return 0, nil
	}

	for _, change := range page.Results {
		if _, err := Apply(ctx, h.col, change); err != nil {
			return 0, err
		}
	}

	h.mu.Lock()
	h.pullCkpt = page.LastSeq
	if page.LastSeq > h.remoteSeq {
		h.remoteSeq = page.LastSeq
	}
	h.mu.Unlock()
	h.saveCheckpoint(ctx, "pull", page.LastSeq)
	return len(page.Results) + page.Skipped, nil
}

// pushOnce sends one batch of local changes to the remote bulk endpoint,
// then persists the push checkpoint. Per-document conflicts reported by
// the remote are logged only: the remote applied its own last-write-wins
// resolution and the pull direction converges both sides.
func (h *Handle) pushOnce(ctx context.Context) (int, error) {
	h.mu.Lock()
	since := h.pushCkpt
	h.mu.Unlock()

	changes, last, err := h.col.Changes(ctx, since, h.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	results, err := h.remote.Bulk(ctx, h.col.Name(), changes)
	if err != nil {
		return 0, err
	}
	for _, res := range results {
		if res.Error != "" {
			h.log.Debug().Str("id", res.ID).Str("result", res.Error).Msg("push resolved remotely")
		}
	}

	h.mu.Lock()
	h.pushCkpt = last
	h.mu.Unlock()
	h.saveCheckpoint(ctx, "push", last)
	return len(changes), nil
}

func (h *Handle) checkpointKey(direction string) string {
	return "checkpoint/" + h.col.Name() + "/" + direction
}

func (h *Handle) loadCheckpoints(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pullCkpt = h.loadCheckpoint(ctx, "pull")
	h.pushCkpt = h.loadCheckpoint(ctx, "push")
}

func (h *Handle) loadCheckpoint(ctx context.Context, direction string) int64 {
	raw, err := h.st.Backend().GetMeta(ctx, h.checkpointKey(direction))
	if err != nil {
		return 0
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func (h *Handle) saveCheckpoint(ctx context.Context, direction string, seq int64) {
	key := h.checkpointKey(direction)
	if err := h.st.Backend().PutMeta(ctx, key, []byte(strconv.FormatInt(seq, 10))); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("checkpoint not persisted")
	}
}
