package encounter

import (
	"time"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
)

// Encounter is one clinical visit. Encounters are written once by the
// vaccination workflow or CRUD forms and never updated.
type Encounter struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Class       fhir.Coding      `json:"class"`
	Subject     fhir.Reference   `json:"subject"`
	Participant []fhir.Reference `json:"participant,omitempty"`
	Period      fhir.Period      `json:"period"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (e *Encounter) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Encounter",
		"id":           e.ID,
		"status":       e.Status,
		"class":        e.Class,
		"subject":      e.Subject,
		"period":       e.Period,
		"meta":         fhir.Meta{LastUpdated: e.UpdatedAt},
	}
	if len(e.Participant) > 0 {
		participants := make([]map[string]interface{}, 0, len(e.Participant))
		for _, ref := range e.Participant {
			participants = append(participants, map[string]interface{}{"individual": ref})
		}
		result["participant"] = participants
	}
	return result
}
