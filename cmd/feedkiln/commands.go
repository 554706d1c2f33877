package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tkilaker/feedkiln/internal/jobs"
	"github.com/tkilaker/feedkiln/internal/pipeline"
)

func newFetchCmd(flags *rootFlags) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one fetch cycle and print the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			kind := jobs.KindDailyFetch
			if full {
				kind = jobs.KindFullFetch
			}
			summary, runErr := a.pipeline.Run(cmd.Context(), kind, full, nil)
			if summary != nil {
				if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "also extract full article content")
	return cmd
}

func newCleanupCmd(flags *rootFlags) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete data older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("days") && days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "articles deleted:     %d\n", res.ArticlesDeleted)
			fmt.Fprintf(out, "website data deleted: %d\n", res.WebsiteDataDeleted)
			fmt.Fprintf(out, "logs deleted:         %d\n", res.LogsDeleted)
			fmt.Fprintf(out, "cutoff:               %s\n", res.Cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days to keep (default RETENTION_DAYS)")
	return cmd
}

func newReportCmd(flags *rootFlags) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print per-source fetch health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.pipeline.Report(cmd.Context(), window)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 7*24*time.Hour, "report window")
	return cmd
}

func newSourcesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			rows := [][]string{{"ID", "NAME", "KIND", "CATEGORY", "ENDPOINT"}}
			for _, src := range registry.All() {
				rows = append(rows, []string{src.ID, src.Name(), string(src.Kind), src.Category, src.Endpoint})
			}
			writeTable(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func printSummary(w io.Writer, summary *pipeline.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func printReport(w io.Writer, report *pipeline.Report) {
	fmt.Fprintf(w, "Report since %s (%s)\n", report.Since.Format(time.RFC3339), report.Window)
	fmt.Fprintf(w, "Runs: %d  Items: %d fetched, %d new  Success rate: %.2f%%\n\n",
		report.Runs, report.ItemsSeen, report.ItemsNew, report.SuccessRate)

	rows := [][]string{{"SOURCE", "ATTEMPTS", "FAILURES", "NEW", "RATE", "LAST", "LAST ERROR"}}
	for _, s := range report.Sources {
		lastErr := ""
		if s.LastError != nil {
			lastErr = *s.LastError
		}
		rows = append(rows, []string{
			s.Source,
			fmt.Sprint(s.Attempts),
			fmt.Sprint(s.Failures),
			fmt.Sprint(s.ItemsNew),
			fmt.Sprintf("%.2f%%", s.SuccessRate),
			s.LastStatus,
			lastErr,
		})
	}
	writeTable(w, rows)
}
