package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken = errors.New("malformed identity token")
	ErrUntrustedToken = errors.New("identity token failed verification")

	// ErrEmailNotVerified means the provider does not vouch for the email, so it
	// cannot be used to find an account.
	ErrEmailNotVerified = errors.New("identity token email is not verified")
)

// IdentityClaims is the claims mapping carried by a provider identity token.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Name          string `json:"name,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
}

// DecodeIdentityToken reads the claims segment of a compact token without
// checking its signature. Callers that need trust use VerifyingDecoder.
func DecodeIdentityToken(raw string) (*IdentityClaims, error) {
	segments := strings.Split(raw, ".")
	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 segments, got %d", ErrMalformedToken, len(segments))
	}

	payload := segments[1]
	if rem := len(payload) % 4; rem != 0 {
		payload += strings.Repeat("=", 4-rem)
	}

	data, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload is not base64: %v", ErrMalformedToken, err)
		}
	}

	claims := &IdentityClaims{}
	if err := json.Unmarshal(data, claims); err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// ClaimsDecoder turns an identity token into claims.
type ClaimsDecoder interface {
	Decode(ctx context.Context, raw string) (*IdentityClaims, error)
}

// UnverifiedDecoder is the development decoder: it trusts whatever the token says.
type UnverifiedDecoder struct{}

func (UnverifiedDecoder) Decode(_ context.Context, raw string) (*IdentityClaims, error) {
	return DecodeIdentityToken(raw)
}

// VerifyingDecoder checks the RS256 signature against the provider's JWKS,
// the audience (our client id), expiry and issuer before returning claims.
// Claims whose email the provider has not verified are refused.
type VerifyingDecoder struct {
	keys     *JWKSCache
	audience string
	issuers  map[string]bool
}

// NewVerifyingDecoder accepts issuer both with and without its https:// scheme,
// since providers such as Google emit either form.
func NewVerifyingDecoder(keys *JWKSCache, audience, issuer string) *VerifyingDecoder {
	bare := strings.TrimPrefix(issuer, "https://")
	return &VerifyingDecoder{
		keys:     keys,
		audience: audience,
		issuers:  map[string]bool{issuer: true, bare: true, "https://" + bare: true},
	}
}

func (d *VerifyingDecoder) Decode(ctx context.Context, raw string) (*IdentityClaims, error) {
	if len(strings.Split(raw, ".")) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformedToken)
	}

	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return d.keys.GetKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(d.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUntrustedToken, err)
	}
	if !d.issuers[claims.Issuer] {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrUntrustedToken, claims.Issuer)
	}
	if !claims.EmailVerified {
		return nil, fmt.Errorf("%w: %s", ErrEmailNotVerified, claims.Email)
	}
	return claims, nil
}
