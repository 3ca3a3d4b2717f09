package medicationadministration

import (
	"time"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
)

// Dosage records how the dose was given.
type Dosage struct {
	Text  string                `json:"text,omitempty"`
	Dose  *fhir.Quantity        `json:"dose,omitempty"`
	Site  *fhir.CodeableConcept `json:"site,omitempty"`
	Route *fhir.CodeableConcept `json:"route,omitempty"`
}

// MedicationAdministration records that a medication dose was given during
// an encounter. Its coding is copied from the Medication document at write
// time so the record stays readable if the product is later edited.
type MedicationAdministration struct {
	ID                        string               `json:"id"`
	Status                    string               `json:"status"`
	MedicationCodeableConcept fhir.CodeableConcept `json:"medicationCodeableConcept"`
	Subject                   fhir.Reference       `json:"subject"`
	Encounter                 fhir.Reference       `json:"context,omitempty"`
	Performer                 []fhir.Reference     `json:"performer,omitempty"`
	EffectiveDateTime         time.Time            `json:"effectiveDateTime"`
	Dosage                    *Dosage              `json:"dosage,omitempty"`
	CreatedAt                 time.Time            `json:"createdAt"`
	UpdatedAt                 time.Time            `json:"updatedAt"`
}

func (ma *MedicationAdministration) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType":              "MedicationAdministration",
		"id":                        ma.ID,
		"status":                    ma.Status,
		"medicationCodeableConcept": ma.MedicationCodeableConcept,
		"subject":                   ma.Subject,
		"meta":                      fhir.Meta{LastUpdated: ma.UpdatedAt},
	}
	if ma.Encounter.Reference != "" {
		result["context"] = ma.Encounter
	}
	if !ma.EffectiveDateTime.IsZero() {
		result["effectiveDateTime"] = ma.EffectiveDateTime.Format(time.RFC3339)
	}
	if len(ma.Performer) > 0 {
		performers := make([]map[string]interface{}, 0, len(ma.Performer))
		for _, ref := range ma.Performer {
			performers = append(performers, map[string]interface{}{"actor": ref})
		}
		result["performer"] = performers
	}
	if ma.Dosage != nil {
		result["dosage"] = ma.Dosage
	}
	return result
}
