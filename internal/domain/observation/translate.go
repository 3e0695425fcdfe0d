package observation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

// Input is the flat request shape. Absent fields keep their stored value on
// update and take defaults on create.
type Input struct {
	Status            string   `json:"status"`
	Category          string   `json:"category"`
	Code              string   `json:"code"`
	Value             *float64 `json:"value_quantity"`
	Unit              string   `json:"value_unit"`
	EffectiveDateTime string   `json:"effective_date_time"`
	Notes             *string  `json:"notes"`

	// resource marks input decoded from the Observation resource shape.
	resource bool
}

// Resource is the Observation resource shape accepted on input. Any subject
// it carries is ignored; the owner always comes from the caller.
type Resource struct {
	ResourceType      string                 `json:"resourceType"`
	Status            string                 `json:"status"`
	Category          []fhir.CodeableConcept `json:"category"`
	Code              *fhir.CodeableConcept  `json:"code"`
	Subject           *fhir.Reference        `json:"subject"`
	ValueQuantity     *fhir.Quantity         `json:"valueQuantity"`
	EffectiveDateTime string                 `json:"effectiveDateTime"`
	Note              []struct {
		Text string `json:"text"`
	} `json:"note"`
}

// FromResource translates an Observation resource into the flat input. A
// resource created without status is final; on update the stored status stays.
func FromResource(r Resource) (Input, error) {
	if r.ResourceType != "Observation" {
		return Input{}, fhir.Invalid("resourceType", "expected Observation")
	}
	in := Input{
		Status:            r.Status,
		EffectiveDateTime: r.EffectiveDateTime,
		resource:          true,
	}
	if len(r.Category) > 0 {
		in.Category = r.Category[0].FirstCoding().Code
	}
	in.Code = r.Code.FirstCoding().Code
	if r.ValueQuantity != nil {
		in.Value = r.ValueQuantity.Value
		in.Unit = r.ValueQuantity.Unit
	}
	if len(r.Note) > 0 {
		notes := r.Note[0].Text
		in.Notes = &notes
	}
	return in, nil
}

// DecodeInput accepts either the flat shape or an Observation resource.
func DecodeInput(body []byte) (Input, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Input{}, fhir.Invalid("body", "request body must be a JSON object")
	}
	if head.ResourceType != "" {
		var r Resource
		if err := json.Unmarshal(body, &r); err != nil {
			return Input{}, fhir.Invalid("body", err.Error())
		}
		return FromResource(r)
	}
	var in Input
	if err := json.Unmarshal(body, &in); err != nil {
		return Input{}, fhir.Invalid("body", err.Error())
	}
	return in, nil
}

// Draft is a validated payload. Nil or empty fields were not supplied.
type Draft struct {
	Status    string
	Category  string
	Symptom   *Symptom
	Value     *float64
	Unit      string
	Effective *time.Time
	Notes     *string
}

// Translate validates in against the vocabulary, the status set, the value
// range and the clock. When creating, code and value are required.
func Translate(in Input, now time.Time, creating bool) (Draft, error) {
	ve := &fhir.ValidationError{}
	var d Draft

	if in.Status == "" && in.resource && creating {
		in.Status = StatusFinal
	}
	if in.Status != "" {
		if validStatuses[in.Status] {
			d.Status = in.Status
		} else {
			ve.Add("status", fhir.IssueTypeCodeInvalid, "must be one of final, update, unknown")
		}
	}
	if len(in.Category) > 50 {
		ve.Add("category", fhir.IssueTypeValue, "must be at most 50 characters")
	} else {
		d.Category = in.Category
	}

	switch {
	case in.Code != "":
		if s, ok := LookupCode(in.Code); ok {
			d.Symptom = &s
		} else {
			ve.Add("code", fhir.IssueTypeCodeInvalid, fmt.Sprintf("%q is not a tracked symptom code", in.Code))
		}
	case creating:
		ve.Add("code", fhir.IssueTypeRequired, "is required")
	}

	switch {
	case in.Value != nil:
		// Stored as NUMERIC(5,2); echo what a later read returns.
		v := fhir.RoundDecimal(*in.Value, 2)
		if v < MinValue || v > MaxValue {
			ve.Add("value_quantity", fhir.IssueTypeValue, "must be between 0 and 10")
		} else {
			d.Value = &v
		}
	case creating:
		ve.Add("value_quantity", fhir.IssueTypeRequired, "is required")
	}

	if len(in.Unit) > 20 {
		ve.Add("value_unit", fhir.IssueTypeValue, "must be at most 20 characters")
	} else {
		d.Unit = in.Unit
	}

	if in.EffectiveDateTime != "" {
		t, err := time.Parse(time.RFC3339, in.EffectiveDateTime)
		switch {
		case err != nil:
			ve.Add("effective_date_time", fhir.IssueTypeValue, "must be an RFC 3339 timestamp")
		case t.After(now.Add(FutureSkew)):
			ve.Add("effective_date_time", fhir.IssueTypeValue, "cannot be more than 5 minutes in the future")
		default:
			d.Effective = &t
		}
	}
	d.Notes = in.Notes

	return d, ve.OrNil()
}

func (d Draft) newObservation(patientID uuid.UUID, now time.Time) *Observation {
	o := &Observation{
		PatientID:         patientID,
		Status:            StatusUpdate,
		Category:          CategoryVitalSigns,
		Unit:              DefaultUnit,
		EffectiveDateTime: now,
	}
	if d.Symptom != nil {
		o.Code = d.Symptom.Code
		o.CodeDisplay = d.Symptom.Display
	}
	if d.Value != nil {
		o.Value = *d.Value
	}
	if d.Status != "" {
		o.Status = d.Status
	}
	if d.Category != "" {
		o.Category = d.Category
	}
	if d.Unit != "" {
		o.Unit = d.Unit
	}
	if d.Effective != nil {
		o.EffectiveDateTime = *d.Effective
	}
	if d.Notes != nil {
		o.Notes = *d.Notes
	}
	return o
}

// applyTo merges the mutable fields into o. Code and category identify the
// observation and cannot change.
func (d Draft) applyTo(o *Observation) error {
	ve := &fhir.ValidationError{}
	if d.Symptom != nil && d.Symptom.Code != o.Code {
		ve.Add("code", fhir.IssueTypeValue, "cannot be changed")
	}
	if d.Category != "" && d.Category != o.Category {
		ve.Add("category", fhir.IssueTypeValue, "cannot be changed")
	}
	if err := ve.OrNil(); err != nil {
		return err
	}
	if d.Status != "" {
		o.Status = d.Status
	}
	if d.Value != nil {
		o.Value = *d.Value
	}
	if d.Unit != "" {
		o.Unit = d.Unit
	}
	if d.Effective != nil {
		o.EffectiveDateTime = *d.Effective
	}
	if d.Notes != nil {
		o.Notes = *d.Notes
	}
	return nil
}
