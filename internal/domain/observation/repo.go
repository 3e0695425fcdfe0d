package observation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("observation not found")

// ListFilter narrows a listing to one patient and optionally a time window
// (inclusive) and a code.
type ListFilter struct {
	PatientID uuid.UUID
	Start     *time.Time
	End       *time.Time
	Code      string
}

type Repository interface {
	Create(ctx context.Context, o *Observation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Observation, error)
	Update(ctx context.Context, o *Observation) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Observation, int, error)
}
