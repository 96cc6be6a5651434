package controller

import (
	"context"
	"errors"
	"os"

	"docharvest/internal/downloader"
	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/journal"
	"docharvest/pkg/linkset"
	"docharvest/pkg/logger"
	"docharvest/pkg/paginate"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/storage"
)

// runDataset indexes one dataset and downloads its links in discovered
// order. The returned error is fatal for the dataset only.
func (c *Controller) runDataset(
	ctx context.Context,
	n int,
	pager *paginate.Paginator,
	executor *downloader.Executor,
	browsers []browser.Browser,
) error {
	log := c.logger.WithField("dataset", n)

	store, err := storage.NewManager(c.cfg.DatasetDir(n), c.cfg.Site.DocumentExt, c.cfg.Output.TempSuffix)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeFileSystem, "cannot prepare dataset directory", err)
	}
	if removed, err := store.CleanStale(); err != nil {
		log.WarnWithFields("failed to clean temp files", map[string]interface{}{"error": err.Error()})
	} else if removed > 0 {
		log.InfoWithFields("removed leftover temp files", map[string]interface{}{"count": removed})
	}

	links, err := c.index(ctx, n, pager)
	if err != nil {
		return err
	}
	c.summary.Links += links.Len()
	log.InfoWithFields("dataset indexed", map[string]interface{}{
		"links": links.Len(),
		"dir":   store.Dir(),
	})
	if links.Len() == 0 {
		return nil
	}
	if present, err := store.CountComplete(); err == nil && present > 0 {
		log.InfoWithFields("documents already on disk", map[string]interface{}{"count": present})
	}

	jobs := make([]downloader.Job, 0, links.Len())
	for _, l := range links.Links() {
		jobs = append(jobs, downloader.Job{Link: l, Target: store.Path(l.ID)})
	}

	if c.progress != nil {
		c.progress.DatasetStarted(n, len(jobs))
		defer c.progress.DatasetFinished(n)
	}

	pool := downloader.NewWorkerPool(ctx, browsers, executor, c.gate, downloader.PoolOptions{
		Pace:    ratelimit.Jitter{Base: c.cfg.Download.Delay, Spread: c.cfg.Download.Jitter},
		Backoff: c.backoff,
	}, log)
	log.InfoWithFields("downloading documents", map[string]interface{}{
		"documents": len(jobs),
		"workers":   pool.GetActiveWorkers(),
	})

	var (
		abort        error
		unauthorized int
	)
	pool.Run(jobs, func(r downloader.JobResult) bool {
		if errors.Is(r.Err, context.Canceled) && ctx.Err() != nil {
			return false
		}
		c.record(ctx, log, r)

		switch {
		case r.Err == nil:
			unauthorized = 0
		case errs.Is(r.Err, errs.ErrorTypeGateFailed):
			abort = r.Err
			return false
		case errs.Is(r.Err, errs.ErrorTypeUnauthorized):
			unauthorized++
			if unauthorized >= c.cfg.Download.MaxUnauthorized {
				abort = &errs.Error{
					Type:    errs.ErrorTypeUnauthorized,
					Message: "too many consecutive unauthorized responses",
					Err:     r.Err,
				}
				return false
			}
		}
		return true
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	return abort
}

// index walks the listing pages and journals every page's links.
func (c *Controller) index(ctx context.Context, n int, pager *paginate.Paginator) (*linkset.Set, error) {
	links := linkset.New()
	for page, err := range pager.Pages(ctx, c.primary, n) {
		if err != nil {
			return links, err
		}
		c.metrics.IncPage()
		links = page.Seen
		if page.New == 0 {
			continue
		}
		if _, err := c.journal.RecordLinks(ctx, c.runID, page.Links); err != nil {
			c.logger.WarnWithFields("journal unavailable", map[string]interface{}{"error": err.Error()})
		}
	}
	return links, nil
}

// record logs and counts one download result.
func (c *Controller) record(ctx context.Context, log logger.Logger, r downloader.JobResult) {
	link := r.Job.Link
	fields := map[string]interface{}{
		"id":          link.ID,
		"url":         link.URL,
		"attempts":    r.Result.Attempts,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if c.cfg.Download.Workers > 1 {
		fields["worker"] = r.WorkerID
	}

	entry := journal.Outcome{Link: link, Attempts: r.Result.Attempts}
	outcome := r.Result.Outcome.String()

	switch {
	case r.Err != nil:
		kind := string(errs.TypeOf(r.Err))
		fields["kind"] = kind
		var ce *errs.Error
		if errors.As(r.Err, &ce) && ce.Attempts > 0 {
			fields["attempts"] = ce.Attempts
			entry.Attempts = ce.Attempts
		}
		outcome = "failed"
		entry.Kind = kind
		entry.Message = r.Err.Error()
		c.summary.Failed++
		c.summary.FailedByKind[kind]++
		c.metrics.IncError(r.Err)
	case r.Result.Outcome == downloader.Skipped:
		if fi, err := os.Stat(r.Job.Target); err == nil {
			entry.Bytes = fi.Size()
		}
		c.summary.Skipped++
	default:
		fields["bytes"] = r.Result.Bytes
		entry.Bytes = r.Result.Bytes
		c.summary.Downloaded++
		c.summary.Bytes += r.Result.Bytes
		c.metrics.AddBytes(r.Result.Bytes)
	}

	entry.Outcome = outcome
	c.metrics.IncDocument(outcome)
	if c.progress != nil {
		var written int64
		if r.Err == nil {
			written = r.Result.Bytes
		}
		c.progress.DocumentFinished(outcome, written)
	}
	if err := c.journal.RecordOutcome(ctx, c.runID, entry); err != nil {
		log.WarnWithFields("journal unavailable", map[string]interface{}{"error": err.Error()})
	}

	logger.LogDownload(log, fields, r.Err == nil && r.Result.Outcome == downloader.Skipped, r.Err)
}
