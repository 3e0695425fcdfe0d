package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/postpartum/tracker/internal/domain/questionnaire"
)

// QuestionnaireSeeder makes sure the default questionnaire exists.
type QuestionnaireSeeder interface {
	EnsureDefault(ctx context.Context) (*questionnaire.Questionnaire, error)
}

// PasswordLogin authenticates username/password logins and issues sessions.
type PasswordLogin struct {
	authn       *Authenticator
	limiter     AttemptLimiter
	provisioner *Provisioner
	issuer      *Issuer
	seeder      QuestionnaireSeeder
	logger      zerolog.Logger
}

func NewPasswordLogin(authn *Authenticator, limiter AttemptLimiter, provisioner *Provisioner,
	issuer *Issuer, seeder QuestionnaireSeeder, logger zerolog.Logger) *PasswordLogin {
	if limiter == nil {
		limiter = NoopLimiter{}
	}
	return &PasswordLogin{
		authn:       authn,
		limiter:     limiter,
		provisioner: provisioner,
		issuer:      issuer,
		seeder:      seeder,
		logger:      logger.With().Str("component", "password_login").Logger(),
	}
}

func (l *PasswordLogin) Login(ctx context.Context, username, password string) (*Session, error) {
	if err := l.limiter.Check(ctx, username); err != nil {
		if errors.Is(err, ErrTooManyAttempts) {
			return nil, err
		}
		// A broken limiter must not lock everyone out.
		l.logger.Error().Err(err).Msg("attempt limiter unavailable")
	}

	acct, err := l.authn.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			if ferr := l.limiter.Fail(ctx, username); ferr != nil {
				l.logger.Error().Err(ferr).Msg("record failed login")
			}
		}
		return nil, err
	}
	if err := l.limiter.Reset(ctx, username); err != nil {
		l.logger.Error().Err(err).Msg("reset login attempts")
	}

	pat, err := l.provisioner.ForPasswordAccount(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("provision patient: %w", err)
	}
	tok, err := l.issuer.Issue(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if l.seeder != nil {
		if _, err := l.seeder.EnsureDefault(ctx); err != nil {
			l.logger.Error().Err(err).Msg("seed default questionnaire")
		}
	}

	return &Session{Token: tok.Key, AccountID: acct.ID, Email: acct.Email, PatientID: pat.ID}, nil
}

// RegisterInput is validated before an account is created from the CLI.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,max=254,no_space"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	Password  string `json:"password" validate:"required,password_strength"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

// Registrar creates password accounts.
type Registrar struct {
	accounts Repository
	authn    *Authenticator
}

func NewRegistrar(accounts Repository, authn *Authenticator) *Registrar {
	return &Registrar{accounts: accounts, authn: authn}
}

// Register creates the account. Validation of in is the caller's job.
func (r *Registrar) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	hash, err := r.authn.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	email := in.Email
	if email == "" {
		email = in.Username
	}
	a := &Account{
		Username:     in.Username,
		Email:        email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: &hash,
	}
	if err := r.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
