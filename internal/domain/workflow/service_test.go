package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/domain/encounter"
	"github.com/vaxrec/vaxrec/internal/domain/immunization"
	"github.com/vaxrec/vaxrec/internal/domain/medication"
	"github.com/vaxrec/vaxrec/internal/domain/medicationadministration"
	"github.com/vaxrec/vaxrec/internal/platform/auth"
	"github.com/vaxrec/vaxrec/internal/platform/fhir"
	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type fixture struct {
	svc             *Service
	encounters      *encounter.Service
	medications     *medication.Service
	immunizations   *immunization.Service
	administrations *medicationadministration.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(store.NewMemory(), "vaxrec")
	t.Cleanup(func() { st.Close() })

	encounters := encounter.NewService(encounter.NewRepository(st))
	medications := medication.NewService(medication.NewRepository(st))
	immunizations := immunization.NewService(immunization.NewRepository(st))
	administrations := medicationadministration.NewService(medicationadministration.NewRepository(st))

	return &fixture{
		svc:             NewService(encounters, medications, immunizations, administrations, zerolog.Nop()),
		encounters:      encounters,
		medications:     medications,
		immunizations:   immunizations,
		administrations: administrations,
	}
}

func clinicianContext() context.Context {
	return auth.WithUser(context.Background(), auth.User{ID: "u1", Name: "Dr. Calmette", Roles: []string{"clinician"}})
}

func bcgInput() Input {
	return Input{
		PatientID:      "p1",
		PatientName:    "Ada Example",
		VaccineCode:    "19",
		VaccineDisplay: "BCG",
		LotNumber:      "LOT-42",
		Site:           "left deltoid",
		Route:          "intradermal",
	}
}

func TestRecordVaccinationCreatesFourDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := clinicianContext()

	result, err := f.svc.RecordVaccination(ctx, bcgInput())
	if err != nil {
		t.Fatalf("RecordVaccination: %v", err)
	}

	enc := result.Encounter
	if enc == nil || enc.ID == "" {
		t.Fatal("expected a persisted encounter")
	}
	if got, want := enc.Subject.Reference, "Patient/p1"; got != want {
		t.Errorf("encounter subject = %q, want %q", got, want)
	}
	if enc.Status != "finished" {
		t.Errorf("encounter status = %q, want finished", enc.Status)
	}
	if enc.Class != encounter.AmbulatoryClass {
		t.Errorf("encounter class = %+v, want ambulatory", enc.Class)
	}

	med := result.Medication
	if med == nil || !result.MedicationCreated {
		t.Fatal("expected a newly created medication")
	}
	if med.VaccineCode() != "19" {
		t.Errorf("medication code = %q, want 19", med.VaccineCode())
	}

	im := result.Immunization
	if im == nil {
		t.Fatal("expected an immunization")
	}
	if got, want := im.Patient.Reference, "Patient/p1"; got != want {
		t.Errorf("immunization patient = %q, want %q", got, want)
	}
	if got, want := im.Encounter.Reference, fhir.FormatReference("Encounter", enc.ID); got != want {
		t.Errorf("immunization encounter = %q, want %q", got, want)
	}
	if im.LotNumber != "LOT-42" {
		t.Errorf("immunization lot = %q", im.LotNumber)
	}

	if im.CreatedAt.IsZero() || !im.CreatedAt.Equal(im.UpdatedAt) {
		t.Errorf("immunization timestamps: created=%v updated=%v", im.CreatedAt, im.UpdatedAt)
	}

	ma := result.MedicationAdministration
	if ma == nil {
		t.Fatal("expected a medication administration")
	}
	if got, want := ma.MedicationCodeableConcept.Coding[0].Code, med.Code.Coding[0].Code; got != want {
		t.Errorf("administration code = %q, want %q", got, want)
	}
	if got, want := ma.Encounter.Reference, im.Encounter.Reference; got != want {
		t.Errorf("administration context = %q, want %q", got, want)
	}

	// Each step landed one document in its own collection.
	for name, count := range map[string]func() int{
		"encounters": func() int { items, _ := f.encounters.List(ctx, "", 10); return len(items) },
		"medications": func() int {
			items, _ := f.medications.List(ctx, "", 10)
			return len(items)
		},
		"immunizations": func() int { items, _ := f.immunizations.List(ctx, "", 10); return len(items) },
		"administrations": func() int {
			items, _ := f.administrations.List(ctx, "", 10)
			return len(items)
		},
	} {
		if got := count(); got != 1 {
			t.Errorf("%s count = %d, want 1", name, got)
		}
	}
}

func TestRecordVaccinationReusesMedication(t *testing.T) {
	f := newFixture(t)
	ctx := clinicianContext()

	first, err := f.svc.RecordVaccination(ctx, bcgInput())
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := f.svc.RecordVaccination(ctx, bcgInput())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if second.MedicationCreated {
		t.Error("second call created a duplicate medication")
	}
	if first.Medication.ID != second.Medication.ID {
		t.Errorf("medication ids differ: %q vs %q", first.Medication.ID, second.Medication.ID)
	}
	meds, err := f.medications.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list medications: %v", err)
	}
	if len(meds) != 1 {
		t.Errorf("medication count = %d, want 1", len(meds))
	}

	// Everything else is written fresh on every call.
	encs, _ := f.encounters.List(ctx, "", 10)
	if len(encs) != 2 {
		t.Errorf("encounter count = %d, want 2", len(encs))
	}
}

func TestRecordVaccinationRequiresUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordVaccination(context.Background(), bcgInput())
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}

	encs, _ := f.encounters.List(clinicianContext(), "", 10)
	if len(encs) != 0 {
		t.Errorf("unauthenticated call wrote %d encounters", len(encs))
	}
}

func TestRecordVaccinationValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := clinicianContext()

	input := bcgInput()
	input.PatientID = ""
	if _, err := f.svc.RecordVaccination(ctx, input); err == nil {
		t.Error("expected error for missing patientId")
	}

	input = bcgInput()
	input.VaccineCode = ""
	if _, err := f.svc.RecordVaccination(ctx, input); err == nil {
		t.Error("expected error for missing vaccineCode")
	}
}

func TestRecordVaccinationDefaultsOccurrence(t *testing.T) {
	f := newFixture(t)
	before := time.Now().UTC()

	result, err := f.svc.RecordVaccination(clinicianContext(), bcgInput())
	if err != nil {
		t.Fatalf("RecordVaccination: %v", err)
	}
	occ := result.Immunization.OccurrenceDateTime
	if occ.Before(before) || occ.After(time.Now().UTC()) {
		t.Errorf("occurrence %v not defaulted to now", occ)
	}
	if result.Encounter.Period.Start == nil || !result.Encounter.Period.Start.Equal(occ) {
		t.Error("encounter period start does not match occurrence")
	}
}

type failingMedicationRepo struct{}

func (failingMedicationRepo) Create(context.Context, *medication.Medication) error {
	return store.ErrStorageUnavailable
}

func (failingMedicationRepo) Get(context.Context, string) (*medication.Medication, error) {
	return nil, store.ErrStorageUnavailable
}

func (failingMedicationRepo) FindByCode(context.Context, string) (*medication.Medication, error) {
	return nil, store.ErrStorageUnavailable
}

func (failingMedicationRepo) List(context.Context, string, int) ([]*medication.Medication, error) {
	return nil, store.ErrStorageUnavailable
}

func TestRecordVaccinationReturnsPartialResultOnFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.medications = medication.NewService(failingMedicationRepo{})
	ctx := clinicianContext()

	result, err := f.svc.RecordVaccination(ctx, bcgInput())
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}

	// No rollback: the encounter written before the failure stays.
	if result.Encounter == nil || result.Encounter.ID == "" {
		t.Fatal("expected the encounter from the partial run")
	}
	if result.Medication != nil || result.Immunization != nil {
		t.Error("steps after the failure should be unset")
	}
	encs, _ := f.encounters.List(ctx, "", 10)
	if len(encs) != 1 {
		t.Errorf("encounter count = %d, want 1", len(encs))
	}
}
