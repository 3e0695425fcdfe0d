package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("patient not found")
	ErrAlreadyExists = errors.New("a patient profile already exists for this account")
	ErrDuplicateID   = errors.New("patient identifier already in use")
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByAccount(ctx context.Context, accountID int64) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
	// CreateIfAbsent inserts p unless the account already has a profile and
	// returns whichever row is stored, plus whether it was inserted now.
	CreateIfAbsent(ctx context.Context, p *Patient) (*Patient, bool, error)
	Update(ctx context.Context, p *Patient) error
}
