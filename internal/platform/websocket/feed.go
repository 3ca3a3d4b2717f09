package websocket

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// Feeder bridges store change feeds into the hub: every commit on a
// followed resource type becomes a broadcast on that type's topic.
type Feeder struct {
	hub    *Hub
	st     *store.Store
	log    zerolog.Logger
	cancel context.CancelFunc
	subs   []*store.Subscription
}

func NewFeeder(hub *Hub, st *store.Store, logger zerolog.Logger) *Feeder {
	return &Feeder{
		hub: hub,
		st:  st,
		log: logger.With().Str("component", "ws-feed").Logger(),
	}
}

// Follow starts one pump per resource type, from the current feed position
// forward. Call Stop to release the subscriptions.
func (f *Feeder) Follow(ctx context.Context, resourceTypes ...string) error {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	for _, resourceType := range resourceTypes {
		col := f.st.Collection(resourceType)
		since, err := col.UpdateSeq(ctx)
		if err != nil {
			cancel()
			return err
		}
		sub := col.Subscribe(ctx, since)
		f.subs = append(f.subs, sub)
		go f.pump(resourceType, sub)
	}
	return nil
}

func (f *Feeder) pump(resourceType string, sub *store.Subscription) {
	for change := range sub.C {
		f.hub.Broadcast(Event{
			Type:         "change",
			Topic:        resourceType,
			ResourceType: resourceType,
			ResourceID:   change.ID,
			Seq:          change.Seq,
			Deleted:      change.Deleted,
			Timestamp:    time.Now().UTC(),
			Data:         change.Doc,
		})
	}
	f.log.Debug().Str("resource_type", resourceType).Msg("change pump closed")
}

// Stop cancels every subscription and waits for the pumps to drain.
func (f *Feeder) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	for _, sub := range f.subs {
		sub.Cancel()
	}
	f.subs = nil
}
