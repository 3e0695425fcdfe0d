package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/postpartum/tracker/internal/config"
	"github.com/postpartum/tracker/internal/domain/account"
	"github.com/postpartum/tracker/internal/domain/provenance"
	"github.com/postpartum/tracker/internal/domain/questionnaire"
	"github.com/postpartum/tracker/internal/platform/db"
	"github.com/postpartum/tracker/internal/platform/fhir"
	"github.com/postpartum/tracker/internal/platform/validation"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tracker-server",
		Short:        "Postpartum health tracking API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(accountCmd())
	root.AddCommand(questionnaireCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		Schema:   cfg.DBSchema,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			schema := schemaFlag(cmd, cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			schema := schemaFlag(cmd, cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func schemaFlag(cmd *cobra.Command, cfg *config.Config) string {
	if s, _ := cmd.Flags().GetString("schema"); s != "" {
		return s
	}
	return cfg.DBSchema
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage password accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a password account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := account.RegisterInput{}
			in.Username, _ = cmd.Flags().GetString("username")
			in.Email, _ = cmd.Flags().GetString("email")
			in.FirstName, _ = cmd.Flags().GetString("first-name")
			in.LastName, _ = cmd.Flags().GetString("last-name")
			in.Password, _ = cmd.Flags().GetString("password")
			if in.Password == "" {
				in.Password = os.Getenv("ACCOUNT_PASSWORD")
			}
			if err := validation.New().Validate(in); err != nil {
				return describeValidation(err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := account.NewRepo(pool)
			a, err := account.NewRegistrar(repo, account.NewAuthenticator(repo, bcrypt.DefaultCost)).Register(ctx, in)
			if err != nil {
				return err
			}
			fmt.Printf("Created account %d (%s)\n", a.ID, a.Username)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("email", "", "Email address (defaults to username)")
	createCmd.Flags().String("first-name", "", "Given name")
	createCmd.Flags().String("last-name", "", "Family name")
	createCmd.Flags().String("password", "", "Password (or set ACCOUNT_PASSWORD)")
	cmd.AddCommand(createCmd)

	return cmd
}

func describeValidation(err error) error {
	ve, ok := fhir.AsValidationError(err)
	if !ok {
		return err
	}
	parts := make([]string, len(ve.Issues))
	for i, is := range ve.Issues {
		parts[i] = fmt.Sprintf("--%s %s", strings.ReplaceAll(is.Field, "_", "-"), is.Message)
	}
	return fmt.Errorf("invalid account: %s", strings.Join(parts, "; "))
}

func questionnaireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questionnaire",
		Short: "Manage questionnaires",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create the default postpartum wellness questionnaire if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := questionnaire.NewService(
				questionnaire.NewQuestionnaireRepo(pool),
				questionnaire.NewResponseRepo(pool),
				db.NewTransactor(pool),
				provenance.NewService(provenance.NewRepo(pool)),
			)
			q, err := svc.EnsureDefault(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Questionnaire %s (%s) ready\n", q.Identifier, q.ID)
			return nil
		},
	})
	return cmd
}
