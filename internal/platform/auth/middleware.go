package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

type contextKey string

const (
	AccountIDKey contextKey = "account_id"
	PrincipalKey contextKey = "principal"
)

var (
	// ErrUnknownToken is returned by a TokenResolver for keys it does not know.
	ErrUnknownToken = errors.New("unknown token")
	ErrNoPatient    = errors.New("no patient profile exists for this account")
)

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	AccountID int64
	Username  string
	Email     string
	// PatientID is uuid.Nil when the account has no patient profile yet.
	PatientID uuid.UUID
}

// HasPatient reports whether the account owns a patient profile.
func (p Principal) HasPatient() bool {
	return p.PatientID != uuid.Nil
}

// TokenResolver maps an opaque bearer token to its principal.
type TokenResolver interface {
	ResolveToken(ctx context.Context, key string) (*Principal, error)
}

// TokenMiddleware authenticates requests carrying "Authorization: Token <key>"
// or "Authorization: Bearer <key>".
func TokenMiddleware(resolver TokenResolver, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			key, ok := parseAuthorization(authHeader)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			ctx := c.Request().Context()
			principal, err := resolver.ResolveToken(ctx, key)
			if err != nil {
				if errors.Is(err, ErrUnknownToken) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				return echo.NewHTTPError(http.StatusServiceUnavailable, "token lookup failed")
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, principal)))
			return next(c)
		}
	}
}

func parseAuthorization(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	scheme := strings.ToLower(parts[0])
	if scheme != "token" && scheme != "bearer" {
		return "", false
	}
	key := strings.TrimSpace(parts[1])
	return key, key != ""
}

// RequirePatient rejects authenticated callers whose account has no patient
// profile with 409.
func RequirePatient() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !p.HasPatient() {
				return c.JSON(http.StatusConflict, fhir.ConflictOutcome(ErrNoPatient.Error()))
			}
			return next(c)
		}
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, p)
	return context.WithValue(ctx, AccountIDKey, p.AccountID)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(PrincipalKey).(*Principal)
	return p
}

func AccountIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(AccountIDKey).(int64)
	return id
}

// PatientIDFromContext returns the caller's patient id, or uuid.Nil.
func PatientIDFromContext(ctx context.Context) uuid.UUID {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.PatientID
	}
	return uuid.Nil
}
