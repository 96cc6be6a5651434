// Package controller drives a harvest run: restore the session, clear the
// age gate, then index and download every dataset in the configured range.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"docharvest/internal/downloader"
	"docharvest/pkg/browser"
	"docharvest/pkg/config"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/gate"
	"docharvest/pkg/journal"
	"docharvest/pkg/logger"
	"docharvest/pkg/metrics"
	"docharvest/pkg/paginate"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/retry"
	"docharvest/pkg/session"
)

const (
	// persistTimeout bounds the final session save after cancellation.
	persistTimeout = 10 * time.Second

	unauthorizedBackoffBase   = 2 * time.Second
	unauthorizedBackoffSpread = 2 * time.Second
)

// Run statuses written to the journal.
const (
	StatusCompleted   = "completed"
	StatusPartial     = "partial"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Progress receives per-dataset download progress.
type Progress interface {
	DatasetStarted(dataset, links int)
	DocumentFinished(outcome string, bytes int64)
	DatasetFinished(dataset int)
}

// Options wires a Controller. Journal, Metrics and Progress are optional.
type Options struct {
	Config   *config.Config
	Factory  browser.Factory
	Store    *session.Store
	Journal  *journal.Journal
	Metrics  *metrics.Metrics
	Progress Progress
	// Stdin and Stdout are used by the headed operator prompt.
	Stdin  *os.File
	Stdout io.Writer
	RunID  string
	Logger logger.Logger
}

// Summary is the tally of a run.
type Summary struct {
	RunID          string
	Links          int
	Downloaded     int
	Skipped        int
	Failed         int
	FailedByKind   map[string]int
	FailedDatasets []int
	Bytes          int64
	Elapsed        time.Duration
}

// Controller owns the primary browser, the session store and the dataset
// link sets for one run.
type Controller struct {
	cfg      *config.Config
	factory  browser.Factory
	store    *session.Store
	journal  *journal.Journal
	metrics  *metrics.Metrics
	progress Progress
	stdin    *os.File
	stdout   io.Writer
	runID    string
	logger   logger.Logger
	retry    *retry.Config
	limiter  ratelimit.Limiter
	backoff  ratelimit.Jitter

	persistMu sync.Mutex
	clearedAt time.Time
	primary   browser.Browser
	gate      *gate.Handler

	summary Summary
}

// New validates the options and creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, errs.New(errs.ErrorTypeConfig, "controller needs a configuration")
	}
	if opts.Factory == nil {
		opts.Factory = browser.NewFactory(opts.Config.Browser, opts.Logger)
	}
	if opts.Store == nil {
		opts.Store = session.NewStore(opts.Config.SessionPath(), nil, opts.Logger)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	log := opts.Logger.WithField("run", opts.RunID)
	retryCfg := retry.FromConfig(opts.Config.Retry, log)
	m := opts.Metrics
	retryCfg.OnRetry = func(int, error, time.Duration) { m.IncRetries() }

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if rpm := opts.Config.RateLimit.RequestsPerMinute; rpm > 0 {
		limiter = ratelimit.PerMinute(rpm, opts.Config.RateLimit.BurstSize)
	}

	return &Controller{
		cfg:      opts.Config,
		factory:  opts.Factory,
		store:    opts.Store,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		progress: opts.Progress,
		stdin:    opts.Stdin,
		stdout:   opts.Stdout,
		runID:    opts.RunID,
		logger:   log,
		retry:    retryCfg,
		limiter:  limiter,
		backoff:  ratelimit.Jitter{Base: unauthorizedBackoffBase, Spread: unauthorizedBackoffSpread},
		summary:  Summary{RunID: opts.RunID, FailedByKind: map[string]int{}},
	}, nil
}

// RunID returns the identifier stamped on logs and journal rows.
func (c *Controller) RunID() string {
	return c.runID
}

// Run executes the whole harvest. Per-link and per-dataset failures are
// counted in the summary; only a failed initial gate check, a browser
// that cannot start, or cancellation produce an error.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	cfg := c.cfg

	if err := c.journal.StartRun(ctx, c.runID, cfg.Datasets.Start, cfg.Datasets.End); err != nil {
		c.logger.WarnWithFields("journal unavailable", map[string]interface{}{"error": err.Error()})
	}

	err := c.run(ctx)

	c.summary.Elapsed = time.Since(start)
	c.finish(err)
	return &c.summary, err
}

func (c *Controller) run(ctx context.Context) error {
	cfg := c.cfg

	pattern, err := paginate.CompilePattern(cfg.Site.DocumentPattern)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeConfig, "bad document pattern", err)
	}

	raw, err := c.factory(ctx)
	if err != nil {
		return err
	}
	defer raw.Close()
	c.primary = c.decorate(raw)

	state := c.store.Load()
	if state != nil {
		if err := c.primary.Restore(ctx, state); err != nil {
			c.logger.WarnWithFields("failed to restore session", map[string]interface{}{"error": err.Error()})
		} else {
			c.logger.InfoWithFields("session restored", map[string]interface{}{
				"cookies":      len(state.Cookies),
				"gate_cleared": state.GateCleared,
			})
		}
		if state.GateCleared {
			c.clearedAt = state.ClearedAt
		}
	}

	confirmer := gate.Select(!cfg.Browser.Headless, state != nil && state.GateCleared,
		cfg.Site.ConfirmLabels, c.stdin, c.stdout, c.logger)
	c.gate = gate.New(gate.Options{
		EntryURL: cfg.Site.EntryURL,
		Detector: gate.Detector{
			URLMarker:  cfg.Site.GateURLMarker,
			TextMarker: cfg.Site.GateTextMarker,
		},
		Confirmer: confirmer,
		Retry:     c.retry,
		Persist:   c.onCleared,
		Logger:    c.logger,
	})

	if err := c.gate.EnsureCleared(ctx, c.primary); err != nil {
		c.logger.WithError(err).ErrorWithFields("age gate check failed", map[string]interface{}{
			"kind":     string(errs.TypeOf(err)),
			"strategy": confirmer.Name(),
		})
		return err
	}
	defer c.persistFinal(ctx)

	browsers, closeWorkers, err := c.workerBrowsers(ctx)
	if err != nil {
		return err
	}
	defer closeWorkers()

	pager := paginate.New(paginate.Options{
		ListingURL: cfg.ListingURLFor,
		Referer:    cfg.Site.EntryURL,
		Pattern:    pattern,
		MaxPages:   cfg.Pagination.MaxPages,
		StopAfter:  cfg.Pagination.StopAfter,
		Pace:       ratelimit.Jitter{Base: cfg.Pagination.Delay, Spread: cfg.Pagination.Jitter},
		Retry:      c.retry,
		Gate:       c.gate,
		Logger:     c.logger,
	})
	executor := downloader.NewExecutor(downloader.ExecutorOptions{
		Retry:      c.retry,
		Timeout:    cfg.Download.Timeout,
		Detector:   c.gate.Detector(),
		TempSuffix: cfg.Output.TempSuffix,
		Logger:     c.logger,
	})

	for n := cfg.Datasets.Start; n <= cfg.Datasets.End; n++ {
		if ctx.Err() != nil {
			break
		}
		err := c.runDataset(ctx, n, pager, executor, browsers)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			c.summary.FailedDatasets = append(c.summary.FailedDatasets, n)
			c.metrics.IncError(err)
			c.logger.WithError(err).ErrorWithFields("dataset aborted", map[string]interface{}{
				"dataset": n,
				"kind":    string(errs.TypeOf(err)),
			})
		}
		if err := c.persist(ctx); err != nil {
			c.logger.WarnWithFields("failed to persist session", map[string]interface{}{"error": err.Error()})
		}
	}

	return ctx.Err()
}

// decorate adds the shared rate limiter and metrics to a browser.
func (c *Controller) decorate(b browser.Browser) browser.Browser {
	b = browser.WithLimiter(b, c.limiter)
	if c.metrics != nil {
		b = browser.WithObserver(b, c.metrics)
	}
	return b
}

// workerBrowsers returns the primary browser plus one restored browser
// per additional worker, all seeded from the same session snapshot.
func (c *Controller) workerBrowsers(ctx context.Context) ([]browser.Browser, func(), error) {
	browsers := []browser.Browser{c.primary}
	extra := c.cfg.Download.Workers - 1
	if extra <= 0 {
		return browsers, func() {}, nil
	}

	snapshot, err := c.primary.State(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to snapshot session for workers: %w", err)
	}

	var raws []browser.Browser
	closeAll := func() {
		for _, b := range raws {
			b.Close()
		}
	}
	for i := 0; i < extra; i++ {
		b, err := c.factory(ctx)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to start worker browser: %w", err)
		}
		raws = append(raws, b)
		if err := b.Restore(ctx, snapshot.Clone()); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to restore worker session: %w", err)
		}
		browsers = append(browsers, c.decorate(b))
	}

	c.logger.InfoWithFields("worker browsers ready", map[string]interface{}{"workers": len(browsers)})
	return browsers, closeAll, nil
}

// onCleared is the gate's persist hook. Only the primary browser's state
// is written to the store.
func (c *Controller) onCleared(ctx context.Context, b browser.Browser) error {
	c.metrics.IncGateClearance()
	if b != c.primary {
		return nil
	}
	c.persistMu.Lock()
	c.clearedAt = time.Now()
	c.persistMu.Unlock()
	return c.persist(ctx)
}

// persist saves the primary browser's state.
func (c *Controller) persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	st, err := c.primary.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to export browser state: %w", err)
	}
	if !c.clearedAt.IsZero() {
		st.MarkCleared(c.clearedAt)
	}
	if err := c.store.Save(st); err != nil {
		return err
	}
	c.logger.DebugWithFields("session saved", map[string]interface{}{
		"path":    c.store.Path(),
		"cookies": len(st.Cookies),
	})
	return nil
}

// persistFinal saves the session on every exit path once the gate has
// been cleared, using a fresh context when ctx is already cancelled.
func (c *Controller) persistFinal(ctx context.Context) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
	}
	if err := c.persist(ctx); err != nil {
		c.logger.WarnWithFields("failed to persist session", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Controller) finish(err error) {
	s := &c.summary
	status := StatusCompleted
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = StatusInterrupted
	case err != nil:
		status = StatusFailed
	case s.Failed > 0 || len(s.FailedDatasets) > 0:
		status = StatusPartial
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if jerr := c.journal.FinishRun(ctx, c.runID, status); jerr != nil {
		c.logger.WarnWithFields("journal unavailable", map[string]interface{}{"error": jerr.Error()})
	}

	fields := map[string]interface{}{
		"status":          status,
		"total_links":     s.Links,
		"downloaded":      s.Downloaded,
		"skipped":         s.Skipped,
		"failed":          s.Failed,
		"failed_datasets": s.FailedDatasets,
		"bytes":           s.Bytes,
		"elapsed":         s.Elapsed.Round(time.Millisecond).String(),
	}
	for kind, n := range s.FailedByKind {
		fields["failed_"+kind] = n
	}
	c.logger.InfoWithFields("run complete", fields)
}
