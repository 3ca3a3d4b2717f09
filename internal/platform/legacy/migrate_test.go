package legacy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(store.NewMemory(), "vaxrec")
	t.Cleanup(func() { st.Close() })
	return st
}

func seedPatients(t *testing.T, kv KV, records ...map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Put("vaxrec_patient", raw); err != nil {
		t.Fatal(err)
	}
}

func TestRunImportsLegacyRecords(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	kv := newMemKV()
	seedPatients(t, kv,
		map[string]interface{}{"id": "p1", "name": "Asha", "updatedAt": "2025-06-01T10:00:00Z"},
		map[string]interface{}{"id": "p2", "name": "Omar"},
	)

	report, err := NewRunner(kv, st, zerolog.Nop()).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Imported != 2 || report.Skipped != 0 || report.Dropped != 0 {
		t.Fatalf("report = %+v, want 2 imported", report)
	}

	doc, err := st.Collection("Patient").Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get imported patient: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body["name"] != "Asha" {
		t.Fatalf("imported body name = %v, want Asha", body["name"])
	}
	if doc.UpdatedAt.Format("2006-01-02") != "2025-06-01" {
		t.Fatalf("imported updatedAt not preserved: %v", doc.UpdatedAt)
	}

	if _, ok, _ := kv.Get("vaxrec_patient"); ok {
		t.Fatal("imported legacy key not removed")
	}
	if _, ok, _ := kv.Get(CompletionMarker); !ok {
		t.Fatal("completion marker not written")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	kv := newMemKV()
	seedPatients(t, kv, map[string]interface{}{"id": "p1", "name": "Asha"})

	runner := NewRunner(kv, st, zerolog.Nop())
	if _, err := runner.Run(ctx); err != nil {
		t.Fatal(err)
	}
	seq, err := st.Collection("Patient").UpdateSeq(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Second run is short-circuited by the marker even if stale legacy
	// data reappears.
	seedPatients(t, kv, map[string]interface{}{"id": "p1", "name": "Stale"})
	report, err := runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 0 {
		t.Fatalf("second run imported %d records", report.Imported)
	}
	seq2, err := st.Collection("Patient").UpdateSeq(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seq2 != seq {
		t.Fatalf("second run wrote to the store: seq %d -> %d", seq, seq2)
	}
}

func TestInterruptedRunSkipsExistingRecords(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	kv := newMemKV()
	seedPatients(t, kv,
		map[string]interface{}{"id": "p1", "name": "Asha"},
		map[string]interface{}{"id": "p2", "name": "Omar"},
	)

	// Simulate a rerun after a crash between import and marker write:
	// p1 already landed in the store, the marker does not exist.
	if _, err := st.Collection("Patient").Put(ctx, &store.Document{
		ID:   "p1",
		Body: json.RawMessage(`{"id":"p1","name":"Asha"}`),
	}); err != nil {
		t.Fatal(err)
	}

	report, err := NewRunner(kv, st, zerolog.Nop()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 1 || report.Skipped != 1 {
		t.Fatalf("report = %+v, want 1 imported 1 skipped", report)
	}
}

func TestMalformedKeyDroppedOthersImported(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	kv := newMemKV()
	if err := kv.Put("vaxrec_patient", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := kv.Put("vaxrec_medication", []byte(`[{"id":"m1","code":"BCG"}]`)); err != nil {
		t.Fatal(err)
	}

	report, err := NewRunner(kv, st, zerolog.Nop()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Dropped != 1 || report.Imported != 1 {
		t.Fatalf("report = %+v, want 1 dropped 1 imported", report)
	}
	if _, ok, _ := kv.Get("vaxrec_patient"); ok {
		t.Fatal("malformed key should be removed")
	}
	if _, err := st.Collection("Medication").Get(ctx, "m1"); err != nil {
		t.Fatalf("later key not imported after malformed one: %v", err)
	}
	if _, ok, _ := kv.Get(CompletionMarker); !ok {
		t.Fatal("completion marker not written after drop")
	}
}

func TestMalformedEntrySkippedWithinKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	kv := newMemKV()
	if err := kv.Put("vaxrec_patient", []byte(`[{"id":"p1"}, "not an object", {"id":"p2"}]`)); err != nil {
		t.Fatal(err)
	}

	report, err := NewRunner(kv, st, zerolog.Nop()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 2 || report.Dropped != 1 {
		t.Fatalf("report = %+v, want 2 imported 1 dropped", report)
	}
}

func TestEntryWithoutIDGetsOne(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	kv := newMemKV()
	seedPatients(t, kv, map[string]interface{}{"name": "Anon"})

	report, err := NewRunner(kv, st, zerolog.Nop()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 1 {
		t.Fatalf("report = %+v, want 1 imported", report)
	}
	docs, err := st.Collection("Patient").List(ctx, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID == "" {
		t.Fatalf("imported record missing generated id: %+v", docs)
	}
}

func TestNeeded(t *testing.T) {
	st := newTestStore(t)
	kv := newMemKV()
	runner := NewRunner(kv, st, zerolog.Nop())

	needed, err := runner.Needed()
	if err != nil || needed {
		t.Fatalf("empty kv: needed=%v err=%v", needed, err)
	}

	if err := kv.Put("vaxrec_patient", []byte(`[{"id":"p1"}]`)); err != nil {
		t.Fatal(err)
	}
	needed, err = runner.Needed()
	if err != nil || !needed {
		t.Fatalf("with legacy data: needed=%v err=%v", needed, err)
	}
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	needed, err = runner.Needed()
	if err != nil || needed {
		t.Fatalf("after run: needed=%v err=%v", needed, err)
	}
}

func TestFileKVRoundTrip(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Put("vaxrec_patient", []byte("[]")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := kv.Get("vaxrec_patient")
	if err != nil || !ok || string(v) != "[]" {
		t.Fatalf("get = %q ok=%v err=%v", v, ok, err)
	}
	if err := kv.Delete("vaxrec_patient"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := kv.Get("vaxrec_patient"); ok {
		t.Fatal("deleted key still present")
	}
	if err := kv.Delete("vaxrec_patient"); err != nil {
		t.Fatal("delete of absent key should be a no-op")
	}
}
