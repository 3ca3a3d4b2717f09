package encounter

import (
	"context"
	"fmt"
	"time"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
)

type Service struct {
	encounters Repository
}

func NewService(encounters Repository) *Service {
	return &Service{encounters: encounters}
}

var validStatuses = map[string]bool{
	"planned": true, "in-progress": true, "finished": true, "cancelled": true,
}

// AmbulatoryClass is the encounter class the vaccination workflow records.
var AmbulatoryClass = fhir.Coding{
	System:  "http://terminology.hl7.org/CodeSystem/v3-ActCode",
	Code:    "AMB",
	Display: "ambulatory",
}

func (s *Service) Create(ctx context.Context, e *Encounter) error {
	if e.Subject.Reference == "" {
		return fmt.Errorf("subject is required")
	}
	if e.Status == "" {
		e.Status = "finished"
	}
	if !validStatuses[e.Status] {
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	if e.Class.Code == "" {
		e.Class = AmbulatoryClass
	}
	if e.Period.Start == nil {
		now := time.Now().UTC()
		e.Period.Start = &now
	}
	return s.encounters.Create(ctx, e)
}

func (s *Service) Get(ctx context.Context, id string) (*Encounter, error) {
	return s.encounters.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, start string, limit int) ([]*Encounter, error) {
	return s.encounters.List(ctx, start, limit)
}
