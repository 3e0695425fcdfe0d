package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

var validGenders = map[string]bool{
	GenderMale:    true,
	GenderFemale:  true,
	GenderOther:   true,
	GenderUnknown: true,
}

// DateLayout is the wire format for birth dates.
const DateLayout = "2006-01-02"

// Patient is the demographic profile owned one-to-one by an account.
type Patient struct {
	ID         uuid.UUID `db:"id" json:"id"`
	AccountID  int64     `db:"account_id" json:"account_id"`
	Identifier string    `db:"identifier" json:"identifier"`
	Active     bool      `db:"active" json:"active"`
	NameFirst  string    `db:"name_first" json:"name_first"`
	NameLast   string    `db:"name_last" json:"name_last"`
	Gender     string    `db:"gender" json:"gender"`
	BirthDate  time.Time `db:"birth_date" json:"birth_date"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultIdentifier derives the business identifier from the account id.
func DefaultIdentifier(accountID int64) string {
	return fmt.Sprintf("PAT-%d", accountID)
}

func (p *Patient) ToFHIR() map[string]interface{} {
	given := []string{}
	if p.NameFirst != "" {
		given = append(given, p.NameFirst)
	}
	updated := p.UpdatedAt
	return map[string]interface{}{
		"resourceType": "Patient",
		"id":           p.ID.String(),
		"meta":         fhir.Meta{LastUpdated: &updated},
		"identifier": []fhir.Identifier{{
			Use: "usual",
			Type: &fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.SystemIdentifierType, Code: "MR", Display: "Medical record number"}},
			},
			System: fhir.SystemPatientIdentifier,
			Value:  p.Identifier,
		}},
		"active":    p.Active,
		"name":      []fhir.HumanName{{Use: "official", Family: p.NameLast, Given: given}},
		"gender":    p.Gender,
		"birthDate": p.BirthDate.Format(DateLayout),
	}
}
