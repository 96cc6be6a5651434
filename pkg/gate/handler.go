package gate

import (
	"context"
	"sync"
	"time"

	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/retry"
)

// PersistFunc saves the browser session after a successful clearance.
type PersistFunc func(ctx context.Context, b browser.Browser) error

// Options configures a Handler.
type Options struct {
	EntryURL  string
	Detector  Detector
	Confirmer Confirmer
	Retry     *retry.Config
	Persist   PersistFunc
	Logger    logger.Logger
}

// Handler clears the gate at most once per process unless asked to
// re-verify. It is safe for use by several workers.
type Handler struct {
	entryURL  string
	detector  Detector
	confirmer Confirmer
	retry     *retry.Config
	persist   PersistFunc
	logger    logger.Logger

	mu      sync.Mutex
	cleared bool
}

// New creates a Handler.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Confirmer == nil {
		opts.Confirmer = FailFast{}
	}
	return &Handler{
		entryURL:  opts.EntryURL,
		detector:  opts.Detector,
		confirmer: opts.Confirmer,
		retry:     opts.Retry,
		persist:   opts.Persist,
		logger:    opts.Logger,
	}
}

// Detector returns the gate detector.
func (h *Handler) Detector() Detector {
	return h.detector
}

// Cleared reports whether the gate has been cleared in this process.
func (h *Handler) Cleared() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cleared
}

// EnsureCleared makes sure b is past the gate. After the first success it
// returns immediately without navigating.
func (h *Handler) EnsureCleared(ctx context.Context, b browser.Browser) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleared {
		return nil
	}
	return h.clear(ctx, b)
}

// Reclear forces a fresh check of b, for use when a request unexpectedly
// lands on the gate mid-run.
func (h *Handler) Reclear(ctx context.Context, b browser.Browser) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared = false
	h.logger.Info("re-verifying age gate")
	return h.clear(ctx, b)
}

func (h *Handler) clear(ctx context.Context, b browser.Browser) error {
	resp, err := h.fetch(ctx, b)
	if err != nil {
		return err
	}
	if !h.detector.Gated(resp) {
		return h.succeed(ctx, b, false)
	}

	h.logger.InfoWithFields("age verification gate detected", map[string]interface{}{
		"url":      resp.URL,
		"strategy": h.confirmer.Name(),
	})
	if err := h.confirmer.Confirm(ctx, b); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs.Is(err, errs.ErrorTypeGateFailed) {
			return err
		}
		return errs.Wrap(errs.ErrorTypeGateFailed, "confirmation failed", err)
	}

	resp, err = h.fetch(ctx, b)
	if err != nil {
		return err
	}
	if h.detector.Gated(resp) {
		return &errs.Error{
			Type:    errs.ErrorTypeGateFailed,
			Message: "still on the age verification page after confirming",
			URL:     resp.URL,
		}
	}
	return h.succeed(ctx, b, true)
}

func (h *Handler) fetch(ctx context.Context, b browser.Browser) (*browser.Response, error) {
	resp, err := retry.DoWithResult(ctx, h.retry, func() (*browser.Response, error) {
		return b.Navigate(ctx, h.entryURL, "")
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.Error{
			Type:    errs.ErrorTypeGateFailed,
			Message: "failed to load entry page",
			URL:     h.entryURL,
			Err:     err,
		}
	}
	return resp, nil
}

func (h *Handler) succeed(ctx context.Context, b browser.Browser, confirmed bool) error {
	h.cleared = true
	h.logger.InfoWithFields("age gate cleared", map[string]interface{}{
		"confirmed": confirmed,
		"at":        time.Now().Format(time.RFC3339),
	})
	if h.persist != nil {
		if err := h.persist(ctx, b); err != nil {
			h.logger.WarnWithFields("failed to persist session", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}
