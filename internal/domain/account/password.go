package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Authenticator checks username/password pairs against stored bcrypt hashes.
type Authenticator struct {
	repo Repository
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewAuthenticator(repo Repository, cost int) *Authenticator {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &Authenticator{repo: repo, cost: cost}
}

// Authenticate returns ErrInvalidCredentials for unknown users, accounts
// without a password and wrong passwords alike. Unknown users still pay for
// one bcrypt comparison.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	acct, err := a.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.burn(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !acct.HasPassword() {
		a.burn(password)
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*acct.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return acct, nil
}

func (a *Authenticator) burn(password string) {
	a.dummyOnce.Do(func() {
		a.dummy, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), a.cost)
	})
	_ = bcrypt.CompareHashAndPassword(a.dummy, []byte(password))
}

func (a *Authenticator) Hash(password string) (string, error) {
	return HashPassword(password, a.cost)
}
