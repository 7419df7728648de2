package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-audit/internal/logging"
	pgstore "github.com/JakeFAU/site-audit/internal/storage/postgres"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is required")
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.App.ServiceName)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			pool, err := pgstore.Connect(cmd.Context(), pgstore.Config{
				DSN:             cfg.DB.DSN,
				MaxConns:        cfg.DB.MaxConns,
				MinConns:        cfg.DB.MinConns,
				MaxConnLifetime: cfg.DB.MaxConnLifetime,
			})
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			return pgstore.Migrate(cmd.Context(), pool, logger.Named("migrate"))
		},
	}
}
