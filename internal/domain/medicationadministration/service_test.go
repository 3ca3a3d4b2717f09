package medicationadministration

import (
	"context"
	"sort"
	"testing"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type mockRepo struct {
	administrations map[string]*MedicationAdministration
}

func newMockRepo() *mockRepo {
	return &mockRepo{administrations: make(map[string]*MedicationAdministration)}
}

func (m *mockRepo) Create(_ context.Context, ma *MedicationAdministration) error {
	if ma.ID == "" {
		ma.ID = "generated-id"
	}
	cp := *ma
	m.administrations[ma.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*MedicationAdministration, error) {
	ma, ok := m.administrations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ma
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, start string, limit int) ([]*MedicationAdministration, error) {
	ids := make([]string, 0, len(m.administrations))
	for id := range m.administrations {
		if id >= start {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*MedicationAdministration, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.administrations[id])
	}
	return out, nil
}

func validAdministration() *MedicationAdministration {
	return &MedicationAdministration{
		Subject: fhir.Reference{Reference: "Patient/p1"},
		MedicationCodeableConcept: fhir.CodeableConcept{
			Coding: []fhir.Coding{{Code: "BCG", Display: "BCG"}},
		},
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MedicationAdministration)
		wantErr bool
	}{
		{"valid", func(ma *MedicationAdministration) {}, false},
		{"missing subject", func(ma *MedicationAdministration) { ma.Subject = fhir.Reference{} }, true},
		{"missing coding", func(ma *MedicationAdministration) {
			ma.MedicationCodeableConcept = fhir.CodeableConcept{}
		}, true},
		{"invalid status", func(ma *MedicationAdministration) { ma.Status = "paused" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newMockRepo())
			ma := validAdministration()
			tt.mutate(ma)
			err := svc.Create(context.Background(), ma)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	svc := NewService(newMockRepo())
	ma := validAdministration()
	if err := svc.Create(context.Background(), ma); err != nil {
		t.Fatal(err)
	}
	if ma.Status != "completed" {
		t.Fatalf("default status = %q", ma.Status)
	}
	if ma.EffectiveDateTime.IsZero() {
		t.Fatal("effective time not defaulted")
	}
}
