package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/server"
)

func newCleanupCmd(opts *options) *cobra.Command {
	var (
		days        int
		skipAudits  bool
		skipExpired bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old audits and expired cache entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return errors.New("--days must be > 0")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

			res, err := app.Service().Cleanup(cmd.Context(), audit.CleanupRequest{
				OldAudits:    !skipAudits,
				ExpiredCache: !skipExpired,
				DaysOld:      days,
			})
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d audits and %d cache entries\n",
				res.DeletedAudits, res.DeletedCacheEntries)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "delete audits older than this many days")
	cmd.Flags().BoolVar(&skipAudits, "keep-audits", false, "do not delete old audits")
	cmd.Flags().BoolVar(&skipExpired, "keep-cache", false, "do not delete expired cache entries")
	return cmd
}
