package questionnaire

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("questionnaire not found")
	ErrResponseNotFound    = errors.New("questionnaire response not found")
	ErrDuplicateIdentifier = errors.New("questionnaire identifier already in use")
)

type QuestionnaireRepository interface {
	Create(ctx context.Context, q *Questionnaire) error
	// CreateIfAbsent inserts q unless its identifier exists and returns the
	// stored row.
	CreateIfAbsent(ctx context.Context, q *Questionnaire) (*Questionnaire, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Questionnaire, error)
	Update(ctx context.Context, q *Questionnaire) error
	List(ctx context.Context, limit, offset int) ([]*Questionnaire, int, error)
}

// ResponseFilter scopes a response listing to one patient and optionally one
// questionnaire.
type ResponseFilter struct {
	PatientID       uuid.UUID
	QuestionnaireID uuid.UUID
}

type ResponseRepository interface {
	Create(ctx context.Context, r *Response) error
	GetByID(ctx context.Context, id uuid.UUID) (*Response, error)
	// Update stores status and authored; items are rewritten when replaceItems.
	Update(ctx context.Context, r *Response, replaceItems bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ResponseFilter, limit, offset int) ([]*Response, int, error)
}
