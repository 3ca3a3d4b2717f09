package medication

import (
	"time"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
)

// Medication is one vaccine product. At most one document exists per
// distinct vaccine code, enforced by lookup-before-insert rather than a
// uniqueness constraint.
type Medication struct {
	ID           string               `json:"id"`
	Code         fhir.CodeableConcept `json:"code"`
	Manufacturer string               `json:"manufacturer,omitempty"`
	Form         string               `json:"form,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// VaccineCode returns the primary coding code, empty when uncoded.
func (m *Medication) VaccineCode() string {
	if len(m.Code.Coding) == 0 {
		return ""
	}
	return m.Code.Coding[0].Code
}

func (m *Medication) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Medication",
		"id":           m.ID,
		"code":         m.Code,
		"meta":         fhir.Meta{LastUpdated: m.UpdatedAt},
	}
	if m.Manufacturer != "" {
		result["manufacturer"] = map[string]string{"display": m.Manufacturer}
	}
	if m.Form != "" {
		result["form"] = fhir.CodeableConcept{Text: m.Form}
	}
	return result
}
