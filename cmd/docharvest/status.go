package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docharvest/pkg/journal"
	"docharvest/pkg/ui"
)

var (
	statusRuns     int
	statusFailures int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show harvest progress recorded in the journal",
	Long: `Show per-dataset progress, recent runs and links whose last download
attempt failed, as recorded in <out>/journal.db.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "docharvest %s\n%s", rootCmd.Version, platformInfo())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "number of recent runs to list")
	statusCmd.Flags().IntVar(&statusFailures, "failures", 20, "number of failed links to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := ui.NewPrinter(cmd.OutOrStdout(), colorEnabled(os.Stdout))

	path := cfg.JournalPath()
	if _, err := os.Stat(path); err != nil {
		out.Warning("no journal at " + path)
		return nil
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	stats, err := j.Stats(ctx)
	if err != nil {
		return err
	}
	runs, err := j.RecentRuns(ctx, statusRuns)
	if err != nil {
		return err
	}
	failures, err := j.Failures(ctx, statusFailures)
	if err != nil {
		return err
	}

	out.Status(stats, runs, failures)
	return nil
}
