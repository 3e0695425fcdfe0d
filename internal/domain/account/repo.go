package account

import (
	"context"
	"time"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	// Create fails with ErrUsernameTaken when the username exists.
	Create(ctx context.Context, a *Account) error
	// CreateIfAbsent inserts a or returns the row already holding its
	// username. The bool reports whether a was inserted.
	CreateIfAbsent(ctx context.Context, a *Account) (*Account, bool, error)
	SetPassword(ctx context.Context, id int64, hash string) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

type TokenRepository interface {
	// GetOrCreate returns the account's token, storing key if it has none.
	GetOrCreate(ctx context.Context, accountID int64, key string) (*Token, error)
}
