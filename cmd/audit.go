package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/server"
)

var (
	accent  = lipgloss.Color("#D97706")
	dim     = lipgloss.Color("#6B7280")
	success = lipgloss.Color("#22C55E")
	warning = lipgloss.Color("#F59E0B")
	danger  = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	dimStyle   = lipgloss.NewStyle().Foreground(dim)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 2)
)

func newAuditCmd(opts *options) *cobra.Command {
	var (
		mode   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "audit <domain>",
		Short: "Audit one domain and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, err := audit.ValidateDomain(args[0])
			if err != nil {
				return err
			}
			m, err := audit.ParseMode(mode)
			if err != nil {
				return err
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

			out, err := app.Service().Audit(cmd.Context(), audit.Request{
				Domain:    domain,
				Mode:      m,
				UserAgent: "siteaudit-cli",
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("audit %s: %w", domain, err)
			}
			if asJSON {
				return writeResultJSON(cmd.OutOrStdout(), out)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), renderResult(domain, out))
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(audit.ModeFast), "audit mode: fast or complete")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON result")
	return cmd
}

func writeResultJSON(w io.Writer, out audit.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		AuditID string `json:"auditId,omitempty"`
		Cached  bool   `json:"cached"`
		audit.Result
	}{out.ID, out.Cached, out.Result}); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 90:
		return lipgloss.NewStyle().Bold(true).Foreground(success)
	case score >= 50:
		return lipgloss.NewStyle().Bold(true).Foreground(warning)
	default:
		return lipgloss.NewStyle().Bold(true).Foreground(danger)
	}
}

// renderResult formats an audit for the terminal.
func renderResult(domain string, out audit.Outcome) string {
	r := out.Result
	var b strings.Builder

	header := titleStyle.Render(domain) + "\n" +
		dimStyle.Render(fmt.Sprintf("%s mode, %d ms", r.Mode, r.ExecutionTimeMs))
	if out.Cached {
		header += dimStyle.Render(" (cached)")
	}
	b.WriteString(boxStyle.Render(header))
	b.WriteString("\n\n")

	scores := []struct {
		name  string
		value int
	}{
		{"Performance", r.Lighthouse.Performance},
		{"SEO", r.Lighthouse.SEO},
		{"Accessibility", r.Lighthouse.Accessibility},
		{"Best practices", r.Lighthouse.BestPractices},
	}
	for _, s := range scores {
		fmt.Fprintf(&b, "  %-16s %s\n", s.name, scoreStyle(s.value).Render(fmt.Sprintf("%3d", s.value)))
	}

	if len(r.Probes) > 0 {
		names := make([]string, 0, len(r.Probes))
		for name := range r.Probes {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\n")
		for _, name := range names {
			status := r.Probes[name]
			style := dimStyle
			if status == audit.ProbeFailed {
				style = lipgloss.NewStyle().Foreground(danger)
			}
			fmt.Fprintf(&b, "  %-16s %s\n", name, style.Render(string(status)))
		}
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("\n" + titleStyle.Render("Recommendations") + "\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}
	if out.ID != "" {
		b.WriteString("\n" + dimStyle.Render("audit "+out.ID) + "\n")
	}
	return b.String()
}
