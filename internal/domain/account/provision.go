package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/postpartum/tracker/internal/domain/patient"
	"github.com/postpartum/tracker/internal/platform/auth"
)

// PasswordBirthDate is the placeholder birth date for patients provisioned
// through a password login.
var PasswordBirthDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const unknownName = "Unknown"

type PatientProvisioner interface {
	EnsureForAccount(ctx context.Context, accountID int64, prof patient.Profile) (*patient.Patient, error)
}

// Provisioner finds or creates the account and its patient profile. Both
// steps converge under concurrent first logins.
type Provisioner struct {
	accounts Repository
	patients PatientProvisioner
	now      func() time.Time
}

func NewProvisioner(accounts Repository, patients PatientProvisioner) *Provisioner {
	return &Provisioner{accounts: accounts, patients: patients, now: time.Now}
}

// FromClaims resolves a federated identity. The email is the username; names
// come from the claims and stay empty when absent.
func (p *Provisioner) FromClaims(ctx context.Context, claims *auth.IdentityClaims) (*Account, *patient.Patient, error) {
	email := strings.TrimSpace(claims.Email)
	if email == "" {
		return nil, nil, ErrMissingEmail
	}
	acct, _, err := p.accounts.CreateIfAbsent(ctx, &Account{
		Username:  email,
		Email:     email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resolve account %s: %w", email, err)
	}
	if err := p.accounts.TouchLogin(ctx, acct.ID, p.now()); err != nil {
		return nil, nil, fmt.Errorf("record login: %w", err)
	}
	pat, err := p.patients.EnsureForAccount(ctx, acct.ID, patient.Profile{
		NameFirst: claims.GivenName,
		NameLast:  claims.FamilyName,
	})
	if err != nil {
		return nil, nil, err
	}
	return acct, pat, nil
}

// ForPasswordAccount ensures the patient profile of an authenticated password
// account, defaulting missing names to Unknown.
func (p *Provisioner) ForPasswordAccount(ctx context.Context, acct *Account) (*patient.Patient, error) {
	if err := p.accounts.TouchLogin(ctx, acct.ID, p.now()); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	return p.patients.EnsureForAccount(ctx, acct.ID, patient.Profile{
		NameFirst: orUnknown(acct.FirstName),
		NameLast:  orUnknown(acct.LastName),
		BirthDate: PasswordBirthDate,
	})
}

func orUnknown(s string) string {
	if s == "" {
		return unknownName
	}
	return s
}
