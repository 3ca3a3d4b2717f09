// Package syncstatus tracks whether the node currently reaches its remote
// and what every collection replication is doing, for display in the
// record keeper's header. State changes fan out to websocket subscribers
// on the sync topic.
package syncstatus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/replication"
	"github.com/vaxrec/vaxrec/internal/platform/websocket"
)

// Probe checks remote connectivity, typically a sync handshake.
type Probe func(ctx context.Context) error

// Snapshot is the externally visible sync state.
type Snapshot struct {
	Online      bool                 `json:"online"`
	CheckedAt   time.Time            `json:"checkedAt"`
	Collections []replication.Status `json:"collections"`
}

// Monitor folds replication state transitions and periodic connectivity
// probes into one snapshot.
type Monitor struct {
	repl     replication.Replication
	hub      *websocket.Hub
	probe    Probe
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	online    bool
	checkedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor. hub may be nil when no websocket surface is
// mounted; probe may be nil when replication is disabled.
func NewMonitor(repl replication.Replication, hub *websocket.Hub, probe Probe, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		repl:     repl,
		hub:      hub,
		probe:    probe,
		interval: interval,
		log:      logger.With().Str("component", "syncstatus").Logger(),
	}
}

// Observer returns the replication event hook. Wire it into the engine's
// Options so state transitions reach subscribers immediately.
func (m *Monitor) Observer() func(replication.Event) {
	return func(event replication.Event) {
		if event.State == replication.StateStreaming {
			m.setOnline(true, event.Time)
		}
		if event.State == replication.StateRetrying {
			m.setOnline(false, event.Time)
		}
		m.broadcast(event)
	}
}

// Start runs the periodic connectivity probe until Stop or context
// cancellation.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.check(ctx)
		for {
			select {
			case <-ticker.C:
				m.check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Snapshot reports current connectivity and per-collection replication
// status.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	m.mu.Lock()
	online, checkedAt := m.online, m.checkedAt
	m.mu.Unlock()

	collections := m.repl.Statuses(ctx)
	if collections == nil {
		collections = []replication.Status{}
	}
	return Snapshot{Online: online, CheckedAt: checkedAt, Collections: collections}
}

func (m *Monitor) check(ctx context.Context) {
	if m.probe == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := m.probe(probeCtx)
	cancel()
	if err != nil {
		m.log.Debug().Err(err).Msg("connectivity probe failed")
	}
	m.setOnline(err == nil, time.Now().UTC())
}

func (m *Monitor) setOnline(online bool, at time.Time) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.checkedAt = at
	m.mu.Unlock()

	if changed && m.hub != nil {
		data, _ := json.Marshal(map[string]bool{"online": online})
		m.hub.Broadcast(websocket.Event{
			Type:      "sync-status",
			Topic:     websocket.SyncTopic,
			Timestamp: at,
			Data:      data,
		})
	}
	if changed {
		m.log.Info().Bool("online", online).Msg("connectivity changed")
	}
}

func (m *Monitor) broadcast(event replication.Event) {
	if m.hub == nil {
		return
	}
	payload := map[string]string{
		"collection": event.Collection,
		"state":      event.State.String(),
	}
	if event.Err != nil {
		payload["error"] = event.Err.Error()
	}
	data, _ := json.Marshal(payload)
	m.hub.Broadcast(websocket.Event{
		Type:      "sync-status",
		Topic:     websocket.SyncTopic,
		Timestamp: event.Time,
		Data:      data,
	})
}
