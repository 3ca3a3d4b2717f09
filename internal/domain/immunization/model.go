package immunization

import (
	"time"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
)

// Immunization is one administered vaccination event.
type Immunization struct {
	ID                 string                `json:"id"`
	Status             string                `json:"status"`
	VaccineCode        fhir.CodeableConcept  `json:"vaccineCode"`
	Patient            fhir.Reference        `json:"patient"`
	Encounter          fhir.Reference        `json:"encounter,omitempty"`
	OccurrenceDateTime time.Time             `json:"occurrenceDateTime"`
	Performer          []fhir.Reference      `json:"performer,omitempty"`
	LotNumber          string                `json:"lotNumber,omitempty"`
	DoseQuantity       *fhir.Quantity        `json:"doseQuantity,omitempty"`
	Site               *fhir.CodeableConcept `json:"site,omitempty"`
	Route              *fhir.CodeableConcept `json:"route,omitempty"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`
}

func (im *Immunization) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Immunization",
		"id":           im.ID,
		"status":       im.Status,
		"vaccineCode":  im.VaccineCode,
		"patient":      im.Patient,
		"meta":         fhir.Meta{LastUpdated: im.UpdatedAt},
	}
	if im.Encounter.Reference != "" {
		result["encounter"] = im.Encounter
	}
	if !im.OccurrenceDateTime.IsZero() {
		result["occurrenceDateTime"] = im.OccurrenceDateTime.Format(time.RFC3339)
	}
	if len(im.Performer) > 0 {
		performers := make([]map[string]interface{}, 0, len(im.Performer))
		for _, ref := range im.Performer {
			performers = append(performers, map[string]interface{}{"actor": ref})
		}
		result["performer"] = performers
	}
	if im.LotNumber != "" {
		result["lotNumber"] = im.LotNumber
	}
	if im.DoseQuantity != nil {
		result["doseQuantity"] = im.DoseQuantity
	}
	if im.Site != nil {
		result["site"] = im.Site
	}
	if im.Route != nil {
		result["route"] = im.Route
	}
	return result
}
