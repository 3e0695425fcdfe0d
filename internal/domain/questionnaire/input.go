package questionnaire

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

// FutureSkew bounds how far ahead of the server clock authored may be.
const FutureSkew = 5 * time.Minute

// QuestionnaireInput is the flat questionnaire payload. Empty fields keep the
// stored value on update.
type QuestionnaireInput struct {
	Identifier  string `json:"identifier"`
	Version     string `json:"version"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

type questionnaireResource struct {
	ResourceType string            `json:"resourceType"`
	Identifier   []fhir.Identifier `json:"identifier"`
	Version      string            `json:"version"`
	Name         string            `json:"name"`
	Title        string            `json:"title"`
	Status       string            `json:"status"`
	Description  string            `json:"description"`
}

// DecodeQuestionnaireInput accepts the flat shape or a Questionnaire resource.
func DecodeQuestionnaireInput(body []byte) (QuestionnaireInput, error) {
	resourceType, err := peekResourceType(body)
	if err != nil {
		return QuestionnaireInput{}, err
	}
	if resourceType == "" {
		var in QuestionnaireInput
		if err := json.Unmarshal(body, &in); err != nil {
			return in, fhir.Invalid("body", err.Error())
		}
		return in, nil
	}
	if resourceType != "Questionnaire" {
		return QuestionnaireInput{}, fhir.Invalid("resourceType", "expected Questionnaire")
	}
	var r questionnaireResource
	if err := json.Unmarshal(body, &r); err != nil {
		return QuestionnaireInput{}, fhir.Invalid("body", err.Error())
	}
	in := QuestionnaireInput{
		Version: r.Version, Name: r.Name, Title: r.Title, Status: r.Status, Description: r.Description,
	}
	if len(r.Identifier) > 0 {
		in.Identifier = r.Identifier[0].Value
	}
	return in, nil
}

func (in QuestionnaireInput) apply(q *Questionnaire, creating bool) error {
	ve := &fhir.ValidationError{}
	checkLen := func(field, v string, max int) bool {
		if len(v) > max {
			ve.Add(field, fhir.IssueTypeValue, fmt.Sprintf("must be at most %d characters", max))
			return false
		}
		return true
	}

	if in.Identifier == "" && creating {
		ve.Add("identifier", fhir.IssueTypeRequired, "is required")
	} else if in.Identifier != "" && checkLen("identifier", in.Identifier, 100) {
		q.Identifier = in.Identifier
	}
	if in.Name == "" && creating {
		ve.Add("name", fhir.IssueTypeRequired, "is required")
	} else if in.Name != "" && checkLen("name", in.Name, 255) {
		q.Name = in.Name
	}
	if in.Version != "" && checkLen("version", in.Version, 20) {
		q.Version = in.Version
	}
	if in.Title != "" && checkLen("title", in.Title, 255) {
		q.Title = in.Title
	}
	if in.Status != "" {
		if validQuestionnaireStatuses[in.Status] {
			q.Status = in.Status
		} else {
			ve.Add("status", fhir.IssueTypeCodeInvalid, "must be one of draft, active, retired, unknown")
		}
	}
	if in.Description != "" {
		q.Description = in.Description
	}
	return ve.OrNil()
}

// answerValues holds every possible answer slot of one item as received.
type answerValues struct {
	Boolean  *bool
	Decimal  *float64
	Integer  *int32
	String   *string
	Date     *string
	DateTime *string
}

// ItemInput is one flat response item.
type ItemInput struct {
	LinkID         string   `json:"link_id"`
	Text           string   `json:"text"`
	AnswerBoolean  *bool    `json:"answer_boolean"`
	AnswerDecimal  *float64 `json:"answer_decimal"`
	AnswerInteger  *int32   `json:"answer_integer"`
	AnswerString   *string  `json:"answer_string"`
	AnswerDate     *string  `json:"answer_date"`
	AnswerDateTime *string  `json:"answer_datetime"`

	// extraAnswers counts answer entries beyond the first in the resource shape.
	extraAnswers int
}

func (it ItemInput) values() answerValues {
	return answerValues{it.AnswerBoolean, it.AnswerDecimal, it.AnswerInteger, it.AnswerString, it.AnswerDate, it.AnswerDateTime}
}

// ResponseInput is the flat response payload. A nil Items leaves stored items
// untouched on update; a non-nil Items replaces them.
type ResponseInput struct {
	Questionnaire string      `json:"questionnaire"`
	Status        string      `json:"status"`
	Authored      string      `json:"authored"`
	Items         []ItemInput `json:"items"`
}

type fhirAnswer struct {
	ValueBoolean  *bool    `json:"valueBoolean"`
	ValueDecimal  *float64 `json:"valueDecimal"`
	ValueInteger  *int32   `json:"valueInteger"`
	ValueString   *string  `json:"valueString"`
	ValueDate     *string  `json:"valueDate"`
	ValueDateTime *string  `json:"valueDateTime"`
}

type responseResource struct {
	ResourceType  string          `json:"resourceType"`
	Questionnaire json.RawMessage `json:"questionnaire"`
	Status        string          `json:"status"`
	Authored      string          `json:"authored"`
	Item          []struct {
		LinkID string       `json:"linkId"`
		Text   string       `json:"text"`
		Answer []fhirAnswer `json:"answer"`
	} `json:"item"`
}

// DecodeResponseInput accepts the flat shape or a QuestionnaireResponse
// resource. The resource's questionnaire may be a canonical string or a
// Reference object.
func DecodeResponseInput(body []byte) (ResponseInput, error) {
	resourceType, err := peekResourceType(body)
	if err != nil {
		return ResponseInput{}, err
	}
	if resourceType == "" {
		var in ResponseInput
		if err := json.Unmarshal(body, &in); err != nil {
			return in, fhir.Invalid("body", err.Error())
		}
		return in, nil
	}
	if resourceType != "QuestionnaireResponse" {
		return ResponseInput{}, fhir.Invalid("resourceType", "expected QuestionnaireResponse")
	}

	var r responseResource
	if err := json.Unmarshal(body, &r); err != nil {
		return ResponseInput{}, fhir.Invalid("body", err.Error())
	}
	in := ResponseInput{Status: r.Status, Authored: r.Authored}
	if len(r.Questionnaire) > 0 {
		var canonical string
		var ref fhir.Reference
		if json.Unmarshal(r.Questionnaire, &canonical) == nil {
			in.Questionnaire = canonical
		} else if json.Unmarshal(r.Questionnaire, &ref) == nil {
			in.Questionnaire = ref.Reference
		} else {
			return ResponseInput{}, fhir.Invalid("questionnaire", "must be a string or a reference")
		}
	}
	if r.Item != nil {
		in.Items = make([]ItemInput, len(r.Item))
		for i, it := range r.Item {
			item := ItemInput{LinkID: it.LinkID, Text: it.Text}
			if len(it.Answer) > 0 {
				a := it.Answer[0]
				item.AnswerBoolean, item.AnswerDecimal, item.AnswerInteger = a.ValueBoolean, a.ValueDecimal, a.ValueInteger
				item.AnswerString, item.AnswerDate, item.AnswerDateTime = a.ValueString, a.ValueDate, a.ValueDateTime
				item.extraAnswers = len(it.Answer) - 1
			}
			in.Items[i] = item
		}
	}
	return in, nil
}

// ResponseDraft is a validated response payload.
type ResponseDraft struct {
	QuestionnaireID uuid.UUID
	Status          string
	Authored        *time.Time
	Items           []Item
	ReplaceItems    bool
}

// TranslateResponse validates in. When creating, questionnaire is required.
func TranslateResponse(in ResponseInput, now time.Time, creating bool) (ResponseDraft, error) {
	ve := &fhir.ValidationError{}
	var d ResponseDraft

	switch {
	case in.Questionnaire != "":
		_, id := fhir.ParseReference(in.Questionnaire)
		parsed, err := uuid.Parse(id)
		if err != nil {
			ve.Add("questionnaire", fhir.IssueTypeValue, "must be a questionnaire id or Questionnaire/<id>")
		} else {
			d.QuestionnaireID = parsed
		}
	case creating:
		ve.Add("questionnaire", fhir.IssueTypeRequired, "is required")
	}

	if in.Status != "" {
		if validResponseStatuses[in.Status] {
			d.Status = in.Status
		} else {
			ve.Add("status", fhir.IssueTypeCodeInvalid,
				"must be one of in-progress, completed, amended, entered-in-error, stopped")
		}
	}

	if in.Authored != "" {
		t, err := time.Parse(time.RFC3339, in.Authored)
		switch {
		case err != nil:
			ve.Add("authored", fhir.IssueTypeValue, "must be an RFC 3339 timestamp")
		case t.After(now.Add(FutureSkew)):
			ve.Add("authored", fhir.IssueTypeValue, "cannot be more than 5 minutes in the future")
		default:
			d.Authored = &t
		}
	}

	if in.Items != nil {
		d.ReplaceItems = true
		d.Items = make([]Item, 0, len(in.Items))
		for i, it := range in.Items {
			field := fmt.Sprintf("items[%d]", i)
			if strings.TrimSpace(it.LinkID) == "" {
				ve.Add(field+".link_id", fhir.IssueTypeRequired, "is required")
			} else if len(it.LinkID) > 100 {
				ve.Add(field+".link_id", fhir.IssueTypeValue, "must be at most 100 characters")
			}
			if it.extraAnswers > 0 {
				ve.Add(field+".answer", fhir.IssueTypeValue, "at most one answer is supported per item")
				continue
			}
			answer, msg := parseAnswer(it.values())
			if msg != "" {
				ve.Add(field+".answer", fhir.IssueTypeValue, msg)
				continue
			}
			d.Items = append(d.Items, Item{Position: i, LinkID: it.LinkID, Text: it.Text, Answer: answer})
		}
	}

	return d, ve.OrNil()
}

// parseAnswer turns the received slots into an Answer, or explains why not.
func parseAnswer(v answerValues) (Answer, string) {
	var answers []Answer
	if v.Boolean != nil {
		answers = append(answers, BoolAnswer(*v.Boolean))
	}
	if v.Decimal != nil {
		if math.Abs(*v.Decimal) >= 1e8 {
			return nil, "decimal answer is out of range"
		}
		// Stored as NUMERIC(10,2).
		answers = append(answers, DecimalAnswer(fhir.RoundDecimal(*v.Decimal, 2)))
	}
	if v.Integer != nil {
		answers = append(answers, IntegerAnswer(*v.Integer))
	}
	if v.String != nil {
		answers = append(answers, StringAnswer(*v.String))
	}
	if v.Date != nil {
		d, err := time.Parse(DateLayout, *v.Date)
		if err != nil {
			return nil, "date answer must be YYYY-MM-DD"
		}
		answers = append(answers, DateAnswer{Date: d})
	}
	if v.DateTime != nil {
		t, err := time.Parse(time.RFC3339, *v.DateTime)
		if err != nil {
			return nil, "datetime answer must be an RFC 3339 timestamp"
		}
		answers = append(answers, DateTimeAnswer{At: t})
	}
	switch len(answers) {
	case 0:
		return nil, ""
	case 1:
		return answers[0], ""
	}
	return nil, "exactly one answer value may be set"
}

func peekResourceType(body []byte) (string, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", fhir.Invalid("body", "request body must be a JSON object")
	}
	return head.ResourceType, nil
}
