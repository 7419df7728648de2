// Package cmd defines the siteaudit command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-audit/internal/config"
)

type options struct {
	cfgFile string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "siteaudit",
		Short: "Website audit service",
		Long: `siteaudit scores websites for performance, SEO, security and privacy,
renders PDF reports and emails them. Run "serve" for the HTTP API or
"audit" for a one-shot audit from the terminal.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newServeCmd(opts),
		newAuditCmd(opts),
		newMigrateCmd(opts),
		newCleanupCmd(opts),
		newAdminTokenCmd(opts),
	)
	return cmd
}

func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
