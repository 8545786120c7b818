package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scheduler and platform statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := context.Background()
		stats, err := c.SchedulerStatistics(ctx)
		if err != nil {
			return fmt.Errorf("failed to get scheduler statistics: %w", err)
		}
		report, err := c.PlatformStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get platform status: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Waiting:\t%d\t%v\n", stats.Waiting, stats.WaitingQueue)
		fmt.Fprintf(w, "Running:\t%d\t%v\n", stats.Running, stats.RunningQueue)
		if !report.Available {
			fmt.Fprintf(w, "Platform:\tunavailable\t%s\n", report.LastError)
			return w.Flush()
		}
		fmt.Fprintf(w, "Cores:\t%.1f / %d\n", report.CoresUsed, report.CoresTotal)
		fmt.Fprintf(w, "Memory:\t%d / %d MiB\n", report.MemoryUsed>>20, report.MemoryTotal>>20)
		fmt.Fprintf(w, "Containers:\t%d\n", report.Containers)
		fmt.Fprintf(w, "Snapshot:\t%s (%.0fs old)\n", report.Timestamp, report.AgeSeconds)
		if report.LastError != "" {
			fmt.Fprintf(w, "Last error:\t%s\n", report.LastError)
		}
		return w.Flush()
	},
}

func init() {
	addClientFlags(statsCmd)
}
