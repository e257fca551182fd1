package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"VaultLedger/internal/config"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	logger := observability.NewLogger("migrate")

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back the VaultLedger schema",
		SilenceUsage: true,
		Long: `Reads the Postgres DSN and migrations directory from the config file,
overridden by VAULT_POSTGRES_DSN and VAULT_MIGRATIONS_DIR.`,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("VAULT_CONFIG"), "path to the YAML config")

	withMigrator := func(fn func(context.Context, *persistence.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := sql.Open("postgres", cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			return fn(ctx, persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger))
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				if err := m.Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				applied, pending, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, f := range applied {
					logger.Info().Str("file", f).Msg("applied")
				}
				for _, f := range pending {
					logger.WithLevel(zerolog.WarnLevel).Str("file", f).Msg("pending")
				}
				return nil
			}),
		},
	)
	return root
}
