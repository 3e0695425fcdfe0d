package fhir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// OperationOutcome severity levels.
const (
	IssueSeverityFatal   = "fatal"
	IssueSeverityError   = "error"
	IssueSeverityWarning = "warning"
)

// OperationOutcome issue type codes.
const (
	IssueTypeInvalid     = "invalid"
	IssueTypeRequired    = "required"
	IssueTypeValue       = "value"
	IssueTypeNotFound    = "not-found"
	IssueTypeConflict    = "conflict"
	IssueTypeProcessing  = "processing"
	IssueTypeSecurity    = "security"
	IssueTypeLogin       = "login"
	IssueTypeThrottled   = "throttled"
	IssueTypeException   = "exception"
	IssueTypeCodeInvalid = "code-invalid"
	IssueTypeTooCostly   = "too-costly"
	IssueTypeTimeout     = "timeout"
)

// FieldIssue is one rejected field of an incoming payload.
type FieldIssue struct {
	Field   string
	Code    string
	Message string
}

// ValidationError collects field-level problems found while translating or
// checking a request body.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Field + ": " + is.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends an issue and returns the receiver for chaining.
func (e *ValidationError) Add(field, code, message string) *ValidationError {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Code: code, Message: message})
	return e
}

// OrNil returns nil when no issues were collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// Invalid builds a single-issue ValidationError.
func Invalid(field, message string) *ValidationError {
	return (&ValidationError{}).Add(field, IssueTypeInvalid, message)
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ValidationOutcome creates an OperationOutcome for a single field.
func ValidationOutcome(field, message string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    IssueSeverityError,
				Code:        IssueTypeInvalid,
				Diagnostics: fmt.Sprintf("%s: %s", field, message),
				Expression:  []string{field},
			},
		},
	}
}

// MultiValidationOutcome maps every field issue to an OperationOutcome issue,
// ordered by field name so responses are stable.
func MultiValidationOutcome(ve *ValidationError) *OperationOutcome {
	issues := append([]FieldIssue(nil), ve.Issues...)
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })

	out := make([]OperationOutcomeIssue, 0, len(issues))
	for _, is := range issues {
		code := is.Code
		if code == "" {
			code = IssueTypeInvalid
		}
		out = append(out, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        code,
			Diagnostics: fmt.Sprintf("%s: %s", is.Field, is.Message),
			Expression:  []string{is.Field},
		})
	}
	return &OperationOutcome{ResourceType: "OperationOutcome", Issue: out}
}

// ConflictOutcome creates an OperationOutcome for a conflict error.
func ConflictOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeConflict, diagnostics)
}

// InternalErrorOutcome creates an OperationOutcome for internal server errors.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, diagnostics)
}

// ThrottleOutcome creates a 429-style OperationOutcome.
func ThrottleOutcome() *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeThrottled, "Rate limit exceeded. Please retry after a delay.")
}
