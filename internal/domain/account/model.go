package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many login attempts")
	ErrMissingEmail       = errors.New("identity claims carry no email")
)

// Account is a login identity. Federated accounts use the email as username
// and have no password hash.
type Account struct {
	ID           int64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash *string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// Token is the opaque bearer credential bound 1:1 to an account.
type Token struct {
	Key       string
	AccountID int64
	CreatedAt time.Time
}

// Session is what a successful login hands back to the caller.
type Session struct {
	Token     string    `json:"token"`
	AccountID int64     `json:"user_id"`
	Email     string    `json:"email"`
	PatientID uuid.UUID `json:"patient_id"`
}
