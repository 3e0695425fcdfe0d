package provenance

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows a provenance listing. PatientID is always required.
type Filter struct {
	PatientID  uuid.UUID
	TargetType string
	TargetID   uuid.UUID
}

// Repository is append-only: entries are never updated or deleted.
type Repository interface {
	Append(ctx context.Context, p *Provenance) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Provenance, int, error)
	CountForTarget(ctx context.Context, targetType string, targetID uuid.UUID) (int, error)
}
