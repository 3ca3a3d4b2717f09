package medication

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// CVXSystem is the coding system vaccine codes default to.
const CVXSystem = "http://hl7.org/fhir/sid/cvx"

type Service struct {
	medications Repository
}

func NewService(medications Repository) *Service {
	return &Service{medications: medications}
}

func (s *Service) Create(ctx context.Context, m *Medication) error {
	if m.VaccineCode() == "" {
		return fmt.Errorf("code is required")
	}
	return s.medications.Create(ctx, m)
}

func (s *Service) Get(ctx context.Context, id string) (*Medication, error) {
	return s.medications.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, start string, limit int) ([]*Medication, error) {
	return s.medications.List(ctx, start, limit)
}

// FindOrCreate returns the medication for a vaccine code, creating it from
// the supplied display and manufacturer when absent. The second return
// reports whether a new document was created. Two racing callers can both
// miss the lookup and insert twice; the record keeper tolerates duplicate
// products, later lookups settle on the lexicographically first.
func (s *Service) FindOrCreate(ctx context.Context, code, display, manufacturer string) (*Medication, bool, error) {
	if code == "" {
		return nil, false, fmt.Errorf("code is required")
	}

	existing, err := s.medications.FindByCode(ctx, code)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	m := &Medication{
		Code: fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: CVXSystem, Code: code, Display: display}},
			Text:   display,
		},
		Manufacturer: manufacturer,
	}
	if err := s.medications.Create(ctx, m); err != nil {
		return nil, false, err
	}
	return m, true, nil
}
