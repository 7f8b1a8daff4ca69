package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

func scoreCmd() *cobra.Command {
	var (
		tenantID string
		branchID string
		asOf     string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score every customer of a scope once and print the report",
		Long: `Score every customer of a scope against the active parameter set.

Examples:
  kestrel score --tenant acme
  kestrel score --tenant acme --branch 1 --as-of 2025-06-01 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			req := scoring.Request{TenantID: tenantID, Fresh: true}
			if branchID != "" {
				req.BranchID = &branchID
			}
			if asOf != "" {
				t, err := parseDate(asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				req.AsOf = &t
			}

			repo, err := repository.New(cfg.Repository)
			if err != nil {
				return err
			}
			defer repo.Close()

			engine, err := rules.NewEngine()
			if err != nil {
				return err
			}
			scorer := scoring.NewService(repo, engine, nil, scoring.Options{
				Workers: cfg.Scoring.Workers,
				Ranking: cfg.Scoring.Ranking,
			})

			report, err := scorer.Calculate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVarP(&branchID, "branch", "b", "", "branch id (empty scores all branches with the global set)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "analysis date, RFC3339 or YYYY-MM-DD (default now)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func printReport(w io.Writer, report *domain.ScoreReport) error {
	fmt.Fprintf(w, "Parameter set: %s (%s)\n", report.ParameterSetUsed, report.ParameterSetID)
	fmt.Fprintf(w, "Analysis date: %s, window %d days\n\n", report.AnalysisDate.Format(time.RFC3339), report.WindowDays)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CUSTOMER\tRECENCY\tFREQUENCY\tVALUE\tCODE\tSEGMENT\tRANKING")
	for _, c := range report.Results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			c.CustomerID, c.RecencyDays, c.Frequency, c.Value.StringFixed(2), c.Code, c.Segment, c.Ranking)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d customers\n", len(report.Results))
	return nil
}
