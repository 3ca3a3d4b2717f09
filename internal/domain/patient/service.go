package patient

import (
	"context"
	"fmt"
)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

var validGenders = map[string]bool{
	"male": true, "female": true, "other": true, "unknown": true,
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if p.Name.Family == "" && len(p.Name.Given) == 0 {
		return fmt.Errorf("name is required")
	}
	if p.Gender == "" {
		return fmt.Errorf("gender is required")
	}
	if !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender: %s", p.Gender)
	}
	if p.BirthDate == "" {
		return fmt.Errorf("birthDate is required")
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id string) (*Patient, error) {
	return s.patients.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if p.Gender != "" && !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender: %s", p.Gender)
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, start string, limit int) ([]*Patient, error) {
	return s.patients.List(ctx, start, limit)
}
