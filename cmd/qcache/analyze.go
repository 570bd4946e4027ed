package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pario-ai/qcache/pkg/analyzer"
	"github.com/pario-ai/qcache/pkg/models"
)

func newAnalyzeCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Query log analytics and optimization suggestions",
	}

	// withAnalyzer opens the analyzer for the duration of fn.
	withAnalyzer := func(cmd *cobra.Command, fn func(a *analyzer.Analyzer) error) error {
		rt, err := load(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		a, err := rt.openAnalyzer()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return fn(a)
	}

	var patternLimit int
	patternsCmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show the most frequent question patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnalyzer(cmd, func(a *analyzer.Analyzer) error {
				stats, err := a.PatternStats(cmd.Context(), patternLimit)
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Println("No patterns recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PATTERN\tCOUNT\tAVG TIME\tAVG COST\tMONTHLY EST\tLAST SEEN")
				for _, s := range stats {
					fmt.Fprintf(w, "%s\t%d\t%s\t%.4f\t%.2f\t%s\n",
						s.Pattern, s.Count, s.AvgExecutionTime.Round(time.Millisecond),
						s.AvgCost, s.EstimatedMonthlyCost, s.LastUpdated.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	patternsCmd.Flags().IntVarP(&patternLimit, "limit", "n", 5, "number of patterns to show")

	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "Show optimization suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnalyzer(cmd, func(a *analyzer.Analyzer) error {
				suggestions, err := a.Suggestions(cmd.Context())
				if err != nil {
					return err
				}
				if len(suggestions) == 0 {
					fmt.Println("No suggestions.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TYPE\tSUGGESTION")
				for _, s := range suggestions {
					fmt.Fprintf(w, "%s\t%s\n", s.Type, s.Message)
				}
				return w.Flush()
			})
		},
	}

	var (
		logConfigID string
		logPattern  string
		logSince    string
		logLimit    int
	)
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "List query log records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.LogQueryOpts{ConfigID: logConfigID, Pattern: logPattern, Limit: logLimit}
			if logSince != "" {
				t, err := time.Parse("2006-01-02", logSince)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}
			return withAnalyzer(cmd, func(a *analyzer.Analyzer) error {
				records, err := a.Records(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No query log records found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tCONFIG\tSCOPE\tEXEC\tCOST\tROWS\tPATTERN\tQUESTION")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%d\t%s\t%s\n",
						r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.ConfigID, dash(r.Scope),
						r.ExecutionTime.Round(time.Millisecond), r.Cost, r.ResultCount, dash(r.Pattern), r.Question)
				}
				return w.Flush()
			})
		},
	}
	logCmd.Flags().StringVar(&logConfigID, "config-id", "", "filter by configuration id")
	logCmd.Flags().StringVar(&logPattern, "pattern", "", "filter by detected pattern")
	logCmd.Flags().StringVar(&logSince, "since", "", "only records on or after this date (YYYY-MM-DD)")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 100, "maximum number of records")

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete query log records older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnalyzer(cmd, func(a *analyzer.Analyzer) error {
				n, err := a.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d query log records.\n", n)
				return nil
			})
		},
	}

	suggestTemplateCmd := &cobra.Command{
		Use:   "suggest-template <question> <statement>",
		Short: "Derive a template from a question and the query it was answered with",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, ok := analyzer.SuggestTemplate(args[0], args[1])
			if !ok {
				return fmt.Errorf("no recognizable pattern in %q", args[0])
			}
			data, err := json.MarshalIndent(desc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.AddCommand(patternsCmd, suggestCmd, logCmd, cleanupCmd, suggestTemplateCmd)
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
