package observation

import (
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

const (
	StatusFinal   = "final"
	StatusUpdate  = "update"
	StatusUnknown = "unknown"
)

var validStatuses = map[string]bool{StatusFinal: true, StatusUpdate: true, StatusUnknown: true}

const (
	CategoryVitalSigns = "vital-signs"

	DefaultUnit     = "0-10"
	SymptomUnit     = "1-10"
	DefaultSeverity = 5.0
	MinValue        = 0.0
	MaxValue        = 10.0

	// FutureSkew is how far ahead of the server clock an effective time may be.
	FutureSkew = 5 * time.Minute
)

// Observation is one recorded symptom severity for a patient.
type Observation struct {
	ID                uuid.UUID `db:"id" json:"id"`
	PatientID         uuid.UUID `db:"patient_id" json:"patient_id"`
	Status            string    `db:"status" json:"status"`
	Category          string    `db:"category" json:"category"`
	Code              string    `db:"code" json:"code"`
	CodeDisplay       string    `db:"code_display" json:"code_display"`
	Value             float64   `db:"value_quantity" json:"value_quantity"`
	Unit              string    `db:"value_unit" json:"value_unit"`
	EffectiveDateTime time.Time `db:"effective_date_time" json:"effective_date_time"`
	Notes             string    `db:"notes" json:"notes"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

func (o *Observation) ToFHIR() map[string]interface{} {
	value := o.Value
	updated := o.UpdatedAt
	result := map[string]interface{}{
		"resourceType": "Observation",
		"id":           o.ID.String(),
		"meta":         fhir.Meta{LastUpdated: &updated},
		"status":       o.Status,
		"category": []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: fhir.SystemObsCategory, Code: o.Category}},
		}},
		"code": fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: fhir.SystemSNOMED, Code: o.Code, Display: o.CodeDisplay}},
			Text:   o.CodeDisplay,
		},
		"subject":           fhir.Reference{Reference: fhir.FormatReference("Patient", o.PatientID.String())},
		"effectiveDateTime": o.EffectiveDateTime.UTC().Format(time.RFC3339),
		"valueQuantity":     fhir.Quantity{Value: &value, Unit: o.Unit},
	}
	if o.Notes != "" {
		result["note"] = []map[string]string{{"text": o.Notes}}
	}
	return result
}
