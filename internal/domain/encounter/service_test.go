package encounter

import (
	"context"
	"sort"
	"testing"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type mockRepo struct {
	encounters map[string]*Encounter
}

func newMockRepo() *mockRepo {
	return &mockRepo{encounters: make(map[string]*Encounter)}
}

func (m *mockRepo) Create(_ context.Context, e *Encounter) error {
	if e.ID == "" {
		e.ID = "generated-id"
	}
	cp := *e
	m.encounters[e.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Encounter, error) {
	e, ok := m.encounters[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, start string, limit int) ([]*Encounter, error) {
	ids := make([]string, 0, len(m.encounters))
	for id := range m.encounters {
		if id >= start {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Encounter, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.encounters[id])
	}
	return out, nil
}

func TestCreateRequiresSubject(t *testing.T) {
	svc := NewService(newMockRepo())
	err := svc.Create(context.Background(), &Encounter{})
	if err == nil {
		t.Fatal("encounter without subject accepted")
	}
}

func TestCreateDefaults(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	e := &Encounter{Subject: fhir.Reference{Reference: "Patient/p1"}}
	if err := svc.Create(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.Status != "finished" {
		t.Fatalf("default status = %q, want finished", e.Status)
	}
	if e.Class.Code != "AMB" {
		t.Fatalf("default class = %q, want AMB", e.Class.Code)
	}
	if e.Period.Start == nil {
		t.Fatal("period start not defaulted")
	}
}

func TestCreateRejectsInvalidStatus(t *testing.T) {
	svc := NewService(newMockRepo())
	e := &Encounter{
		Subject: fhir.Reference{Reference: "Patient/p1"},
		Status:  "imaginary",
	}
	if err := svc.Create(context.Background(), e); err == nil {
		t.Fatal("invalid status accepted")
	}
}
