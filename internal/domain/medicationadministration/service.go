package medicationadministration

import (
	"context"
	"fmt"
	"time"
)

type Service struct {
	administrations Repository
}

func NewService(administrations Repository) *Service {
	return &Service{administrations: administrations}
}

var validStatuses = map[string]bool{
	"in-progress": true, "completed": true, "entered-in-error": true, "stopped": true,
}

func (s *Service) Create(ctx context.Context, ma *MedicationAdministration) error {
	if ma.Subject.Reference == "" {
		return fmt.Errorf("subject is required")
	}
	if len(ma.MedicationCodeableConcept.Coding) == 0 {
		return fmt.Errorf("medicationCodeableConcept is required")
	}
	if ma.Status == "" {
		ma.Status = "completed"
	}
	if !validStatuses[ma.Status] {
		return fmt.Errorf("invalid status: %s", ma.Status)
	}
	if ma.EffectiveDateTime.IsZero() {
		ma.EffectiveDateTime = time.Now().UTC()
	}
	return s.administrations.Create(ctx, ma)
}

func (s *Service) Get(ctx context.Context, id string) (*MedicationAdministration, error) {
	return s.administrations.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, start string, limit int) ([]*MedicationAdministration, error) {
	return s.administrations.List(ctx, start, limit)
}
