// Package downloader turns discovered document links into files on disk,
// one browser per worker.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/gate"
	"docharvest/pkg/linkset"
	"docharvest/pkg/logger"
	"docharvest/pkg/retry"
	"docharvest/pkg/storage"
)

// Outcome is the result of a successful Download call.
type Outcome int

const (
	Downloaded Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes one download.
type Result struct {
	Outcome  Outcome
	Bytes    int64
	Attempts int
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Retry *retry.Config
	// Timeout bounds each attempt.
	Timeout    time.Duration
	Detector   gate.Detector
	TempSuffix string
	Logger     logger.Logger
}

// Executor downloads single documents.
type Executor struct {
	retry      *retry.Config
	timeout    time.Duration
	detector   gate.Detector
	tempSuffix string
	logger     logger.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.TempSuffix == "" {
		opts.TempSuffix = ".part"
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Executor{
		retry:      opts.Retry,
		timeout:    opts.Timeout,
		detector:   opts.Detector,
		tempSuffix: opts.TempSuffix,
		logger:     opts.Logger,
	}
}

// Download fetches link into target. A non-empty target is left alone and
// reported as Skipped without touching the network. The file at target is
// only ever created by an atomic rename of a complete temp file.
func (e *Executor) Download(ctx context.Context, b browser.Browser, link linkset.Link, target string) (Result, error) {
	if storage.IsComplete(target) {
		return Result{Outcome: Skipped}, nil
	}
	if err := os.Remove(target + e.tempSuffix); err != nil && !os.IsNotExist(err) {
		return Result{}, errs.Wrap(errs.ErrorTypeFileSystem, "failed to remove stale temp file", err)
	}

	var (
		attempts int
		written  int64
	)
	err := retry.Do(ctx, e.retry, func() error {
		attempts++
		n, err := e.attempt(ctx, b, link, target)
		written = n
		return err
	})
	res := Result{Outcome: Downloaded, Bytes: written, Attempts: attempts}
	if err != nil {
		var ce *errs.Error
		if errors.As(err, &ce) {
			ce.Attempts = attempts
		}
		return res, err
	}
	return res, nil
}

func (e *Executor) attempt(ctx context.Context, b browser.Browser, link linkset.Link, target string) (int64, error) {
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := b.Navigate(actx, link.URL, link.Referer)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errs.TypeOf(err) == errs.ErrorTypeUnknown {
			return 0, &errs.Error{Type: errs.ErrorTypeTransient, Message: "navigation failed", URL: link.URL, Err: err}
		}
		return 0, err
	}

	if statusErr := errs.FromStatus(resp.Status, link.URL); statusErr != nil {
		return 0, statusErr
	}
	if e.detector.Gated(resp) {
		return 0, &errs.Error{
			Type:    errs.ErrorTypeUnexpectedContentType,
			Message: "redirected to the age verification page",
			Code:    resp.Status,
			URL:     link.URL,
		}
	}
	if !storage.LooksLikeDocument(resp.ContentType, resp.Body) {
		return 0, &errs.Error{
			Type:    errs.ErrorTypeUnexpectedContentType,
			Message: fmt.Sprintf("expected a document, got %q", resp.ContentType),
			Code:    resp.Status,
			URL:     link.URL,
		}
	}

	n, err := storage.WriteAtomic(target, e.tempSuffix, bytes.NewReader(resp.Body))
	if errors.Is(err, storage.ErrEmptyBody) {
		return 0, &errs.Error{Type: errs.ErrorTypeTransient, Message: "empty response body", Code: resp.Status, URL: link.URL}
	}
	if err != nil {
		return 0, errs.Wrap(errs.ErrorTypeFileSystem, "failed to write document", err)
	}
	return n, nil
}
