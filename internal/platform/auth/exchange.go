package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrExchangeRejected = errors.New("authorization code exchange rejected")
	ErrNoIDToken        = errors.New("token response has no id_token")
)

// GoogleConfig is the identity provider configuration, built once at startup.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	Timeout      time.Duration
}

// CodeExchanger trades an authorization code for an identity token.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// GoogleExchanger performs the authorization-code grant against the
// provider's token endpoint. It never retries.
type GoogleExchanger struct {
	cfg    GoogleConfig
	client *resty.Client
}

func NewGoogleExchanger(cfg GoogleConfig) *GoogleExchanger {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &GoogleExchanger{cfg: cfg, client: client}
}

func (g *GoogleExchanger) Exchange(ctx context.Context, code string) (string, error) {
	var (
		out     tokenResponse
		failure tokenError
	)
	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"code":          code,
			"client_id":     g.cfg.ClientID,
			"client_secret": g.cfg.ClientSecret,
			"redirect_uri":  g.cfg.RedirectURI,
			"grant_type":    "authorization_code",
		}).
		SetResult(&out).
		SetError(&failure).
		Post(g.cfg.TokenURL)
	if err != nil {
		return "", fmt.Errorf("call token endpoint: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: status %d %s", ErrExchangeRejected, resp.StatusCode(), failure.Error)
	}
	if out.IDToken == "" {
		return "", ErrNoIDToken
	}
	return out.IDToken, nil
}

// AuthorizationURL builds the provider consent URL for the login redirect.
func (g *GoogleExchanger) AuthorizationURL(nonce string) string {
	q := url.Values{}
	q.Set("client_id", g.cfg.ClientID)
	q.Set("redirect_uri", g.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("nonce", nonce)
	q.Set("prompt", "select_account")
	return g.cfg.AuthURL + "?" + q.Encode()
}

// NewNonce returns 16 random bytes, hex encoded.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
