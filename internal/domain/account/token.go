package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewTokenKey returns 20 random bytes, hex encoded.
func NewTokenKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issuer mints the account's bearer token on first use and returns the same
// token afterwards. Tokens never expire or rotate.
type Issuer struct {
	tokens TokenRepository
	newKey func() (string, error)
}

func NewIssuer(tokens TokenRepository) *Issuer {
	return &Issuer{tokens: tokens, newKey: NewTokenKey}
}

func (i *Issuer) Issue(ctx context.Context, accountID int64) (*Token, error) {
	key, err := i.newKey()
	if err != nil {
		return nil, err
	}
	t, err := i.tokens.GetOrCreate(ctx, accountID, key)
	if err != nil {
		return nil, fmt.Errorf("issue token for account %d: %w", accountID, err)
	}
	return t, nil
}
