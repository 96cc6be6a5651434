package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"docharvest/pkg/browser"
	"docharvest/pkg/controller"
	"docharvest/pkg/journal"
	"docharvest/pkg/logger"
	"docharvest/pkg/metrics"
	"docharvest/pkg/ui"
)

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	notify, _ := cmd.Flags().GetBool("notify")

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close(log)

	out := ui.NewPrinter(os.Stdout, colorEnabled(os.Stdout))
	if !quiet {
		out.Banner(version)
		out.Info("Output", cfg.Output.BaseDirectory)
		out.Info("Datasets", rangeLabel(cfg.Datasets.Start, cfg.Datasets.End))
		out.Info("Engine", engineLabel(cfg.Browser.Engine, cfg.Browser.Headless))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sessionStore(cfg, log)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if cfg.Journal.Enabled {
		j, err = journal.Open(cfg.JournalPath())
		if err != nil {
			log.WarnWithFields("journal disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer j.Close()
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
		m.Serve(ctx, cfg.Metrics.Addr, log)
	}

	var progress controller.Progress
	if quiet && ui.IsTerminal(os.Stderr) {
		progress = ui.NewProgressDisplay(ui.NewPrinter(os.Stderr, colorEnabled(os.Stderr)))
	}

	c, err := controller.New(controller.Options{
		Config:   cfg,
		Factory:  browser.NewFactory(cfg.Browser, log),
		Store:    store,
		Journal:  j,
		Metrics:  m,
		Progress: progress,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	summary, err := c.Run(ctx)
	if summary != nil {
		s := ui.Summary{
			RunID:          summary.RunID,
			Links:          summary.Links,
			Downloaded:     summary.Downloaded,
			Skipped:        summary.Skipped,
			Failed:         summary.Failed,
			FailedByKind:   summary.FailedByKind,
			FailedDatasets: summary.FailedDatasets,
			Bytes:          summary.Bytes,
			Elapsed:        summary.Elapsed,
		}
		out.Summary(s)
		if notify {
			if nerr := ui.NewNotifier().NotifySummary(s); nerr != nil {
				log.DebugWithFields("desktop notification failed", map[string]interface{}{"error": nerr.Error()})
			}
		}
	}
	return err
}

func rangeLabel(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

func engineLabel(engine string, headless bool) string {
	if headless {
		return engine + " (headless)"
	}
	return engine + " (headed)"
}
