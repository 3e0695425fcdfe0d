package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fallback OAuth client values used when the environment provides none.
// They only work against a local mock provider and are refused in production.
const (
	FallbackGoogleClientID     = "postpartum-dev.apps.googleusercontent.com"
	FallbackGoogleClientSecret = "dev-insecure-secret"
	FallbackGoogleRedirectURI  = "http://localhost:8000/auth/google/callback/"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBSchema    string   `mapstructure:"DB_SCHEMA"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	GoogleClientID     string        `mapstructure:"GOOGLE_OAUTH2_CLIENT_ID"`
	GoogleClientSecret string        `mapstructure:"GOOGLE_OAUTH2_CLIENT_SECRET"`
	GoogleRedirectURI  string        `mapstructure:"GOOGLE_OAUTH2_REDIRECT_URI"`
	GoogleAuthURL      string        `mapstructure:"GOOGLE_AUTH_URL"`
	GoogleTokenURL     string        `mapstructure:"GOOGLE_TOKEN_URL"`
	GoogleJWKSURL      string        `mapstructure:"GOOGLE_JWKS_URL"`
	GoogleIssuer       string        `mapstructure:"GOOGLE_ISSUER"`
	VerifyIDToken      bool          `mapstructure:"GOOGLE_VERIFY_ID_TOKEN"`
	ExchangeTimeout    time.Duration `mapstructure:"GOOGLE_EXCHANGE_TIMEOUT"`

	LoginPagePath    string `mapstructure:"LOGIN_PAGE_PATH"`
	LoginSuccessPath string `mapstructure:"LOGIN_SUCCESS_PATH"`

	LoginMaxAttempts   int64         `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginAttemptWindow time.Duration `mapstructure:"LOGIN_ATTEMPT_WINDOW"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CORS_ORIGINS",
	"GOOGLE_OAUTH2_CLIENT_ID", "GOOGLE_OAUTH2_CLIENT_SECRET", "GOOGLE_OAUTH2_REDIRECT_URI",
	"GOOGLE_AUTH_URL", "GOOGLE_TOKEN_URL", "GOOGLE_JWKS_URL", "GOOGLE_ISSUER",
	"GOOGLE_VERIFY_ID_TOKEN", "GOOGLE_EXCHANGE_TIMEOUT",
	"LOGIN_PAGE_PATH", "LOGIN_SUCCESS_PATH",
	"LOGIN_MAX_ATTEMPTS", "LOGIN_ATTEMPT_WINDOW", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("GOOGLE_OAUTH2_CLIENT_ID", FallbackGoogleClientID)
	v.SetDefault("GOOGLE_OAUTH2_CLIENT_SECRET", FallbackGoogleClientSecret)
	v.SetDefault("GOOGLE_OAUTH2_REDIRECT_URI", FallbackGoogleRedirectURI)
	v.SetDefault("GOOGLE_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("GOOGLE_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs")
	v.SetDefault("GOOGLE_ISSUER", "https://accounts.google.com")
	v.SetDefault("GOOGLE_VERIFY_ID_TOKEN", true)
	v.SetDefault("GOOGLE_EXCHANGE_TIMEOUT", 10*time.Second)
	v.SetDefault("LOGIN_PAGE_PATH", "/login/")
	v.SetDefault("LOGIN_SUCCESS_PATH", "/app/")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_ATTEMPT_WINDOW", 15*time.Minute)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesFallbackCredentials reports whether any OAuth client value is still the
// built-in development fallback.
func (c *Config) UsesFallbackCredentials() bool {
	return c.GoogleClientID == FallbackGoogleClientID ||
		c.GoogleClientSecret == FallbackGoogleClientSecret ||
		c.GoogleRedirectURI == FallbackGoogleRedirectURI
}

// Validate checks that the configuration is safe to run. Production refuses the
// fallback OAuth client values and unverified identity tokens.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.UsesFallbackCredentials() {
			return fmt.Errorf("GOOGLE_OAUTH2_CLIENT_ID, GOOGLE_OAUTH2_CLIENT_SECRET and GOOGLE_OAUTH2_REDIRECT_URI must be set in production")
		}
		if !c.VerifyIDToken {
			return fmt.Errorf("GOOGLE_VERIFY_ID_TOKEN cannot be disabled in production")
		}
	}
	if c.VerifyIDToken && c.GoogleJWKSURL == "" {
		return fmt.Errorf("GOOGLE_JWKS_URL is required when GOOGLE_VERIFY_ID_TOKEN is true")
	}
	if c.ExchangeTimeout <= 0 {
		return fmt.Errorf("GOOGLE_EXCHANGE_TIMEOUT must be positive, got %s", c.ExchangeTimeout)
	}
	if c.LoginMaxAttempts < 1 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be at least 1, got %d", c.LoginMaxAttempts)
	}
	if !strings.HasPrefix(c.LoginPagePath, "/") || !strings.HasPrefix(c.LoginSuccessPath, "/") {
		return fmt.Errorf("LOGIN_PAGE_PATH and LOGIN_SUCCESS_PATH must be absolute paths")
	}
	return nil
}
