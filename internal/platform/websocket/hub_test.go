package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{
		ID:     "client-1",
		Topics: []string{"Immunization"},
		Send:   make(chan []byte, 256),
	}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("Immunization") != 1 {
		t.Fatalf("expected 1 client on Immunization, got %d", hub.TopicCount("Immunization"))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{
		ID:     "client-2",
		Topics: []string{"Patient"},
		Send:   make(chan []byte, 256),
	}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("Patient") != 0 {
		t.Fatalf("expected 0 clients on Patient, got %d", hub.TopicCount("Patient"))
	}

	// Unregister is idempotent.
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	subscriber := &Client{
		ID:     "sub-1",
		Topics: []string{"Immunization"},
		Send:   make(chan []byte, 256),
	}
	nonSubscriber := &Client{
		ID:     "non-sub-1",
		Topics: []string{"Encounter"},
		Send:   make(chan []byte, 256),
	}
	hub.Register(subscriber)
	hub.Register(nonSubscriber)

	hub.Broadcast(Event{
		Type:         "change",
		Topic:        "Immunization",
		ResourceType: "Immunization",
		ResourceID:   "imm-1",
		Timestamp:    time.Now().UTC(),
	})

	select {
	case raw := <-subscriber.Send:
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if event.ResourceID != "imm-1" {
			t.Fatalf("broadcast resource id = %q", event.ResourceID)
		}
	default:
		t.Fatal("subscriber did not receive broadcast")
	}

	select {
	case <-nonSubscriber.Send:
		t.Fatal("non-subscriber received broadcast for foreign topic")
	default:
	}
}

func TestHub_ProcessMessageSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "c1", Send: make(chan []byte, 256)}
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{SyncTopic, "Patient"}})
	if hub.TopicCount(SyncTopic) != 1 || hub.TopicCount("Patient") != 1 {
		t.Fatal("subscribe did not register topics")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"Patient"}})
	if hub.TopicCount("Patient") != 0 {
		t.Fatal("unsubscribe left the client on the topic")
	}
	if hub.TopicCount(SyncTopic) != 1 {
		t.Fatal("unsubscribe removed an unrelated topic")
	}
}

func TestFeederBroadcastsStoreCommits(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory(), "vaxrec")
	defer st.Close()

	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "c1", Topics: []string{"Immunization"}, Send: make(chan []byte, 256)}
	hub.Register(client)

	feeder := NewFeeder(hub, st, zerolog.Nop())
	if err := feeder.Follow(ctx, "Immunization"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	defer feeder.Stop()

	if _, err := st.Collection("Immunization").Put(ctx, &store.Document{
		ID:   "imm-1",
		Body: json.RawMessage(`{"vaccineCode":"BCG"}`),
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case raw := <-client.Send:
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatal(err)
		}
		if event.Type != "change" || event.ResourceID != "imm-1" || event.Seq != 1 {
			t.Fatalf("live event = %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no live event after store commit")
	}
}
