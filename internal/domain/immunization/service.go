package immunization

import (
	"context"
	"fmt"
	"time"
)

type Service struct {
	immunizations Repository
}

func NewService(immunizations Repository) *Service {
	return &Service{immunizations: immunizations}
}

var validStatuses = map[string]bool{
	"completed": true, "entered-in-error": true, "not-done": true,
}

func (s *Service) Create(ctx context.Context, im *Immunization) error {
	if im.Patient.Reference == "" {
		return fmt.Errorf("patient is required")
	}
	if len(im.VaccineCode.Coding) == 0 || im.VaccineCode.Coding[0].Code == "" {
		return fmt.Errorf("vaccineCode is required")
	}
	if im.Status == "" {
		im.Status = "completed"
	}
	if !validStatuses[im.Status] {
		return fmt.Errorf("invalid status: %s", im.Status)
	}
	if im.OccurrenceDateTime.IsZero() {
		im.OccurrenceDateTime = time.Now().UTC()
	}
	return s.immunizations.Create(ctx, im)
}

func (s *Service) Get(ctx context.Context, id string) (*Immunization, error) {
	return s.immunizations.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, start string, limit int) ([]*Immunization, error) {
	return s.immunizations.List(ctx, start, limit)
}
