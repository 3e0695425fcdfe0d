package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"

	"github.com/postpartum/tracker/internal/platform/auth"
)

// LoginState is a step of the federated login flow.
type LoginState int

const (
	AnonymousRequest LoginState = iota
	CodeReceived
	TokenExchanged
	ClaimsDecoded
	AccountResolved
	SessionIssued
	Redirected
)

var stateNames = [...]string{
	"AnonymousRequest", "CodeReceived", "TokenExchanged", "ClaimsDecoded",
	"AccountResolved", "SessionIssued", "Redirected",
}

func (s LoginState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
	return stateNames[s]
}

var errNonceMismatch = errors.New("identity token nonce does not match the login request")

// FlowConfig is built once from configuration at startup.
type FlowConfig struct {
	LoginPagePath string
	SuccessPath   string
}

// FlowResult is where the flow ended. Reached is the last state completed
// before the redirect.
type FlowResult struct {
	Reached  LoginState
	Redirect string
	Session  *Session
	Err      error
}

// OK reports whether the flow issued a session.
func (r FlowResult) OK() bool {
	return r.Session != nil
}

// LoginFlow drives the authorization-code login: exchange the code, decode
// the identity token, provision the account and patient, issue a token.
// Account and token writes are each durable, so a failed flow can simply be
// retried.
type LoginFlow struct {
	cfg         FlowConfig
	exchanger   auth.CodeExchanger
	decoder     auth.ClaimsDecoder
	provisioner *Provisioner
	issuer      *Issuer
	logger      zerolog.Logger
}

func NewLoginFlow(cfg FlowConfig, exchanger auth.CodeExchanger, decoder auth.ClaimsDecoder,
	provisioner *Provisioner, issuer *Issuer, logger zerolog.Logger) *LoginFlow {
	return &LoginFlow{
		cfg:         cfg,
		exchanger:   exchanger,
		decoder:     decoder,
		provisioner: provisioner,
		issuer:      issuer,
		logger:      logger.With().Str("component", "login_flow").Logger(),
	}
}

// Run executes the flow for an authorization code. expectedNonce is the value
// stored when the login started; empty skips the nonce check. Run never
// returns without a redirect target.
func (f *LoginFlow) Run(ctx context.Context, code, expectedNonce string) (res FlowResult) {
	state := AnonymousRequest
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().
				Str("state", state.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("login flow panicked")
			res = f.fail(state, fmt.Errorf("panic: %v", r))
		}
	}()

	if strings.TrimSpace(code) == "" {
		return f.fail(state, errors.New("no authorization code"))
	}
	state = CodeReceived

	idToken, err := f.exchanger.Exchange(ctx, code)
	if err != nil {
		return f.fail(state, err)
	}
	state = TokenExchanged

	claims, err := f.decoder.Decode(ctx, idToken)
	if err != nil {
		return f.fail(state, err)
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return f.fail(state, errNonceMismatch)
	}
	if claims.Email == "" {
		return f.fail(state, ErrMissingEmail)
	}
	state = ClaimsDecoded

	acct, pat, err := f.provisioner.FromClaims(ctx, claims)
	if err != nil {
		return f.fail(state, err)
	}
	state = AccountResolved

	tok, err := f.issuer.Issue(ctx, acct.ID)
	if err != nil {
		return f.fail(state, err)
	}
	state = SessionIssued

	f.logger.Info().Int64("account_id", acct.ID).Msg("federated login succeeded")
	return FlowResult{
		Reached:  state,
		Redirect: withQuery(f.cfg.SuccessPath, "token", tok.Key),
		Session: &Session{
			Token:     tok.Key,
			AccountID: acct.ID,
			Email:     acct.Email,
			PatientID: pat.ID,
		},
	}
}

func (f *LoginFlow) fail(reached LoginState, err error) FlowResult {
	f.logger.Warn().Err(err).Str("state", reached.String()).Msg("login flow aborted")
	return FlowResult{Reached: reached, Redirect: f.cfg.LoginPagePath, Err: err}
}

func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}
