package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/postpartum/tracker/internal/config"
	"github.com/postpartum/tracker/internal/domain/account"
	"github.com/postpartum/tracker/internal/domain/observation"
	"github.com/postpartum/tracker/internal/domain/patient"
	"github.com/postpartum/tracker/internal/domain/provenance"
	"github.com/postpartum/tracker/internal/domain/questionnaire"
	"github.com/postpartum/tracker/internal/platform/auth"
	"github.com/postpartum/tracker/internal/platform/db"
	"github.com/postpartum/tracker/internal/platform/middleware"
	"github.com/postpartum/tracker/internal/platform/validation"
)

const (
	requestBodyLimit   = "1M"
	requestTimeout     = 30 * time.Second
	accessStreamMaxLen = 100000
)

func newDecoder(cfg *config.Config, logger zerolog.Logger) auth.ClaimsDecoder {
	if !cfg.VerifyIDToken {
		logger.Warn().Msg("identity token signatures are NOT verified; development only")
		return auth.UnverifiedDecoder{}
	}
	keys := auth.NewJWKSCache(cfg.GoogleJWKSURL, auth.DefaultJWKSCacheTTL, cfg.ExchangeTimeout)
	return auth.NewVerifyingDecoder(keys, cfg.GoogleClientID, cfg.GoogleIssuer)
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	if cfg.UsesFallbackCredentials() {
		logger.Warn().Msg("using built-in development OAuth client credentials")
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	var (
		limiter   account.AttemptLimiter = account.NoopLimiter{}
		checks    []db.Check
		recorders []middleware.AccessRecorder
	)
	if cfg.RedisURL != "" {
		rdb, err := newRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		limiter = account.NewRedisLimiter(rdb, cfg.LoginMaxAttempts, cfg.LoginAttemptWindow)
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		recorders = append(recorders, middleware.NewRedisAccessRecorder(rdb, middleware.DefaultAccessStream, accessStreamMaxLen))
		logger.Info().Msg("login attempt limiting and access stream enabled")
	} else {
		logger.Warn().Msg("REDIS_URL not set; login attempt limiting and access stream disabled")
	}

	// Domain services
	tx := db.NewTransactor(pool)
	provSvc := provenance.NewService(provenance.NewRepo(pool))
	patientSvc := patient.NewService(patient.NewRepo(pool))
	obsSvc := observation.NewService(observation.NewRepo(pool), tx, provSvc)
	qSvc := questionnaire.NewService(
		questionnaire.NewQuestionnaireRepo(pool),
		questionnaire.NewResponseRepo(pool),
		tx, provSvc,
	)

	// Identity
	accounts := account.NewRepo(pool)
	tokens := account.NewTokenStore(pool)
	exchanger := auth.NewGoogleExchanger(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.GoogleRedirectURI,
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		Timeout:      cfg.ExchangeTimeout,
	})
	provisioner := account.NewProvisioner(accounts, patientSvc)
	issuer := account.NewIssuer(tokens)
	flow := account.NewLoginFlow(
		account.FlowConfig{LoginPagePath: cfg.LoginPagePath, SuccessPath: cfg.LoginSuccessPath},
		exchanger, newDecoder(cfg, logger), provisioner, issuer, logger,
	)
	passwordLogin := account.NewPasswordLogin(
		account.NewAuthenticator(accounts, bcrypt.DefaultCost), limiter, provisioner, issuer, qSvc, logger,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	e.Pre(echomw.AddTrailingSlash())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(requestBodyLimit))

	rateCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateCfg.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rateCfg))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(db.ConnMiddleware(pool, cfg.DBSchema))
	e.Use(auth.TokenMiddleware(tokens, auth.NewSkipper(cfg.LoginSuccessPath)))
	e.Use(middleware.Audit(logger, recorders...))

	e.GET("/health/", db.HealthHandler(pool, checks...))
	account.NewHandler(flow, passwordLogin, exchanger, !cfg.IsDev(), logger).RegisterRoutes(e)

	api := e.Group("")
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	observation.NewHandler(obsSvc).RegisterRoutes(api)
	questionnaire.NewHandler(qSvc).RegisterRoutes(api)
	provenance.NewHandler(provSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
