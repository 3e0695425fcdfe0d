package provenance

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

// Actions recorded against a target.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Target resource types that carry an audit trail.
const (
	TargetObservation           = "Observation"
	TargetQuestionnaireResponse = "QuestionnaireResponse"
)

// Fixed reasons attached by the resource endpoints.
const (
	ReasonCreated        = "Created via API"
	ReasonUpdated        = "Updated via API"
	ReasonDeleted        = "Deleted via API"
	ReasonSymptomTracker = "Created via symptom tracker"
)

var validActions = map[string]bool{ActionCreate: true, ActionUpdate: true, ActionDelete: true}

var validTargets = map[string]bool{TargetObservation: true, TargetQuestionnaireResponse: true}

// Provenance is one append-only audit entry. The target is stored by type and
// id without a foreign key so delete entries outlive their target.
type Provenance struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TargetType string    `db:"target_type" json:"target_type"`
	TargetID   uuid.UUID `db:"target_id" json:"target_id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Action     string    `db:"action" json:"action"`
	Recorded   time.Time `db:"recorded" json:"recorded"`
	Reason     string    `db:"reason" json:"reason"`
}

// Entry is what a mutation hands to the recorder.
type Entry struct {
	TargetType string
	TargetID   uuid.UUID
	PatientID  uuid.UUID
	Action     string
	Reason     string
}

func (p *Provenance) ToFHIR() map[string]interface{} {
	recorded := p.Recorded
	result := map[string]interface{}{
		"resourceType": "Provenance",
		"id":           p.ID.String(),
		"meta":         fhir.Meta{LastUpdated: &recorded},
		"recorded":     p.Recorded.UTC().Format(time.RFC3339),
		"target": []fhir.Reference{{
			Reference: fhir.FormatReference(p.TargetType, p.TargetID.String()),
		}},
		"agent": []map[string]interface{}{{
			"who": fhir.Reference{Reference: fhir.FormatReference("Patient", p.PatientID.String())},
		}},
		"activity": fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  fhir.SystemDataOperation,
				Code:    strings.ToUpper(p.Action),
				Display: actionDisplay(p.Action),
			}},
		},
	}
	if p.Reason != "" {
		result["reason"] = []fhir.CodeableConcept{{Text: p.Reason}}
	}
	return result
}

func actionDisplay(action string) string {
	if action == "" {
		return ""
	}
	return strings.ToUpper(action[:1]) + action[1:]
}
