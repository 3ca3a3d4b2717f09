package patient

import (
	"time"

	"github.com/vaxrec/vaxrec/internal/platform/fhir"
)

// Patient is one person whose vaccinations the record keeper tracks.
type Patient struct {
	ID        string              `json:"id"`
	Name      fhir.HumanName      `json:"name"`
	Gender    string              `json:"gender"`
	BirthDate string              `json:"birthDate"`
	Contact   []fhir.ContactPoint `json:"contact,omitempty"`
	Address   []fhir.Address      `json:"address,omitempty"`
	Active    bool                `json:"active"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func (p *Patient) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Patient",
		"id":           p.ID,
		"name":         []fhir.HumanName{p.Name},
		"gender":       p.Gender,
		"birthDate":    p.BirthDate,
		"active":       p.Active,
		"meta":         fhir.Meta{LastUpdated: p.UpdatedAt},
	}
	if len(p.Contact) > 0 {
		result["telecom"] = p.Contact
	}
	if len(p.Address) > 0 {
		result["address"] = p.Address
	}
	return result
}
