package questionnaire

import (
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

const DateLayout = "2006-01-02"

var validQuestionnaireStatuses = map[string]bool{
	"draft": true, "active": true, "retired": true, "unknown": true,
}

const (
	ResponseInProgress     = "in-progress"
	ResponseCompleted      = "completed"
	ResponseAmended        = "amended"
	ResponseEnteredInError = "entered-in-error"
	ResponseStopped        = "stopped"
)

var validResponseStatuses = map[string]bool{
	ResponseInProgress: true, ResponseCompleted: true, ResponseAmended: true,
	ResponseEnteredInError: true, ResponseStopped: true,
}

// Questionnaire is a shared form definition. It is not owned by a patient.
type Questionnaire struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Identifier  string    `db:"identifier" json:"identifier"`
	Version     string    `db:"version" json:"version"`
	Name        string    `db:"name" json:"name"`
	Title       string    `db:"title" json:"title"`
	Status      string    `db:"status" json:"status"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Default is the questionnaire seeded at login and by the CLI.
func Default() *Questionnaire {
	return &Questionnaire{
		Identifier:  "postpartum-wellness-v1",
		Version:     "1.0",
		Name:        "Postpartum Wellness Assessment",
		Title:       "Postpartum Wellness Questionnaire",
		Status:      "active",
		Description: "A comprehensive assessment of postpartum health and well-being",
	}
}

func (q *Questionnaire) ToFHIR() map[string]interface{} {
	updated := q.UpdatedAt
	return map[string]interface{}{
		"resourceType": "Questionnaire",
		"id":           q.ID.String(),
		"meta":         fhir.Meta{LastUpdated: &updated},
		"identifier":   []fhir.Identifier{{Value: q.Identifier}},
		"version":      q.Version,
		"name":         q.Name,
		"title":        q.Title,
		"status":       q.Status,
		"description":  q.Description,
	}
}

// Item is one answered (or unanswered) question of a response.
type Item struct {
	Position int
	LinkID   string
	Text     string
	Answer   Answer
}

// Response is a patient's set of answers to a questionnaire.
type Response struct {
	ID              uuid.UUID `db:"id" json:"id"`
	QuestionnaireID uuid.UUID `db:"questionnaire_id" json:"questionnaire_id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	Status          string    `db:"status" json:"status"`
	Authored        time.Time `db:"authored" json:"authored"`
	Items           []Item    `json:"items"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (r *Response) ToFHIR() map[string]interface{} {
	items := make([]map[string]interface{}, len(r.Items))
	for i, it := range r.Items {
		answers := []map[string]interface{}{}
		if it.Answer != nil {
			k, v := it.Answer.fhirValue()
			answers = append(answers, map[string]interface{}{k: v})
		}
		items[i] = map[string]interface{}{
			"linkId": it.LinkID,
			"text":   it.Text,
			"answer": answers,
		}
	}
	updated := r.UpdatedAt
	return map[string]interface{}{
		"resourceType":  "QuestionnaireResponse",
		"id":            r.ID.String(),
		"meta":          fhir.Meta{LastUpdated: &updated},
		"questionnaire": fhir.Reference{Reference: fhir.FormatReference("Questionnaire", r.QuestionnaireID.String())},
		"status":        r.Status,
		"subject":       fhir.Reference{Reference: fhir.FormatReference("Patient", r.PatientID.String())},
		"authored":      r.Authored.UTC().Format(time.RFC3339),
		"item":          items,
	}
}
