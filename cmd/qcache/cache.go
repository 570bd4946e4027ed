package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			c, err := rt.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Directory:\t%s\n", stats.Directory)
			fmt.Fprintf(w, "Entries:\t%d\n", stats.TotalEntries)
			fmt.Fprintf(w, "Memory entries:\t%d\n", stats.MemorySize)
			fmt.Fprintf(w, "Disk files:\t%d\n", stats.DiskSize)
			fmt.Fprintf(w, "Average age:\t%s\n", stats.AverageAge.Round(time.Second))
			if err := w.Flush(); err != nil {
				return err
			}

			if len(stats.TopQueries) == 0 {
				return nil
			}
			fmt.Println()
			w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HITS\tQUESTION")
			for _, q := range stats.TopQueries {
				fmt.Fprintf(w, "%d\t%s\n", q.HitCount, q.Question)
			}
			return w.Flush()
		},
	}

	var olderThan time.Duration
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			c, err := rt.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Clear(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			if olderThan > 0 {
				fmt.Printf("Cleared %d entries not used in the last %s.\n", n, olderThan)
			} else {
				fmt.Printf("Cleared all %d cache entries.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only clear entries not accessed within this duration (e.g. 24h)")

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Remove expired entries and repair orphaned index rows or payload files",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			c, err := rt.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Compact(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d entries.\n", n)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, compactCmd)
	return cmd
}
