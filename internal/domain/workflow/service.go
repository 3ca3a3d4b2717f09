// Package workflow executes the fixed multi-document sequence for
// recording one vaccination event: encounter, medication lookup,
// immunization, administration.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/domain/encounter"
	"github.com/vaxrec/vaxrec/internal/domain/immunization"
	"github.com/vaxrec/vaxrec/internal/domain/medication"
	"github.com/vaxrec/vaxrec/internal/domain/medicationadministration"
	"github.com/vaxrec/vaxrec/internal/platform/auth"
	"github.com/vaxrec/vaxrec/internal/platform/fhir"
)

// Input is one vaccination event to record.
type Input struct {
	PatientID          string         `json:"patientId"`
	PatientName        string         `json:"patientName"`
	VaccineCode        string         `json:"vaccineCode"`
	VaccineDisplay     string         `json:"vaccineDisplay"`
	LotNumber          string         `json:"lotNumber,omitempty"`
	Manufacturer       string         `json:"manufacturer,omitempty"`
	DoseQuantity       *fhir.Quantity `json:"doseQuantity,omitempty"`
	Site               string         `json:"site,omitempty"`
	Route              string         `json:"route,omitempty"`
	OccurrenceDateTime time.Time      `json:"occurrenceDateTime"`
	Performer          string         `json:"performer,omitempty"`
	Location           string         `json:"location,omitempty"`
}

// Result carries every document the sequence created or found. On partial
// failure the documents written before the failing step are still set, so
// the caller can surface them for manual review.
type Result struct {
	Encounter                *encounter.Encounter                               `json:"encounter,omitempty"`
	Medication               *medication.Medication                             `json:"medication,omitempty"`
	MedicationCreated        bool                                               `json:"medicationCreated"`
	Immunization             *immunization.Immunization                         `json:"immunization,omitempty"`
	MedicationAdministration *medicationadministration.MedicationAdministration `json:"medicationAdministration,omitempty"`
}

type Service struct {
	encounters      *encounter.Service
	medications     *medication.Service
	immunizations   *immunization.Service
	administrations *medicationadministration.Service
	log             zerolog.Logger
}

func NewService(
	encounters *encounter.Service,
	medications *medication.Service,
	immunizations *immunization.Service,
	administrations *medicationadministration.Service,
	logger zerolog.Logger,
) *Service {
	return &Service{
		encounters:      encounters,
		medications:     medications,
		immunizations:   immunizations,
		administrations: administrations,
		log:             logger.With().Str("component", "workflow").Logger(),
	}
}

// RecordVaccination runs the four-step write sequence. The steps are
// independent store writes with no compensating rollback: on failure the
// partial Result is returned together with the error.
func (s *Service) RecordVaccination(ctx context.Context, input Input) (*Result, error) {
	result := &Result{}

	user, err := auth.UserFromContext(ctx)
	if err != nil {
		return result, err
	}
	if input.PatientID == "" {
		return result, fmt.Errorf("patientId is required")
	}
	if input.VaccineCode == "" {
		return result, fmt.Errorf("vaccineCode is required")
	}
	occurrence := input.OccurrenceDateTime
	if occurrence.IsZero() {
		occurrence = time.Now().UTC()
	}

	practitioner := fhir.Reference{
		Reference: fhir.FormatReference("Practitioner", user.ID),
		Display:   user.Name,
	}

	enc := &encounter.Encounter{
		Status: "finished",
		Class:  encounter.AmbulatoryClass,
		Subject: fhir.Reference{
			Reference: fhir.FormatReference("Patient", input.PatientID),
			Display:   input.PatientName,
		},
		Participant: []fhir.Reference{practitioner},
		Period:      fhir.Period{Start: &occurrence},
	}
	if err := s.encounters.Create(ctx, enc); err != nil {
		return result, fmt.Errorf("create encounter: %w", err)
	}
	result.Encounter = enc

	med, created, err := s.medications.FindOrCreate(ctx, input.VaccineCode, input.VaccineDisplay, input.Manufacturer)
	if err != nil {
		return result, fmt.Errorf("find or create medication: %w", err)
	}
	result.Medication = med
	result.MedicationCreated = created

	im := &immunization.Immunization{
		Status: "completed",
		VaccineCode: fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  medication.CVXSystem,
				Code:    input.VaccineCode,
				Display: input.VaccineDisplay,
			}},
			Text: input.VaccineDisplay,
		},
		Patient:            enc.Subject,
		Encounter:          fhir.Reference{Reference: fhir.FormatReference("Encounter", enc.ID)},
		OccurrenceDateTime: occurrence,
		Performer:          []fhir.Reference{practitioner},
		LotNumber:          input.LotNumber,
		DoseQuantity:       input.DoseQuantity,
	}
	if input.Site != "" {
		im.Site = &fhir.CodeableConcept{Text: input.Site}
	}
	if input.Route != "" {
		im.Route = &fhir.CodeableConcept{Text: input.Route}
	}
	if err := s.immunizations.Create(ctx, im); err != nil {
		return result, fmt.Errorf("create immunization: %w", err)
	}
	result.Immunization = im

	if med != nil {
		ma := &medicationadministration.MedicationAdministration{
			Status:                    "completed",
			MedicationCodeableConcept: med.Code,
			Subject:                   enc.Subject,
			Encounter:                 im.Encounter,
			Performer:                 []fhir.Reference{practitioner},
			EffectiveDateTime:         occurrence,
		}
		if input.DoseQuantity != nil || input.Site != "" || input.Route != "" {
			dosage := dosageFrom(input)
			ma.Dosage = &dosage
		}
		if err := s.administrations.Create(ctx, ma); err != nil {
			return result, fmt.Errorf("create medication administration: %w", err)
		}
		result.MedicationAdministration = ma
	}

	s.log.Info().
		Str("patient", input.PatientID).
		Str("vaccine", input.VaccineCode).
		Bool("medication_created", created).
		Msg("vaccination recorded")
	return result, nil
}

func dosageFrom(input Input) medicationadministration.Dosage {
	d := medicationadministration.Dosage{Dose: input.DoseQuantity}
	if input.Site != "" {
		d.Site = &fhir.CodeableConcept{Text: input.Site}
	}
	if input.Route != "" {
		d.Route = &fhir.CodeableConcept{Text: input.Route}
	}
	return d
}
