// Package browser is the navigation capability the harvester drives: load a
// URL with a referer, activate a confirmation control, and export or import
// the session. Two engines implement it, a real Chrome driven over the
// DevTools protocol and a plain HTTP client with a cookie jar.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"docharvest/pkg/config"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/session"
)

// Response is the main document produced by a navigation.
type Response struct {
	// URL is the final URL after redirects.
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// Browser is an exclusively owned browsing context. Implementations are
// not safe for concurrent navigation.
type Browser interface {
	// Navigate loads rawURL as a top-level document. HTTP error statuses
	// are reported in the Response; only transport failures and timeouts
	// return an error.
	Navigate(ctx context.Context, rawURL, referer string) (*Response, error)
	// Confirm activates the first control on the current page whose label
	// matches one of labels. It reports false when no such control exists.
	Confirm(ctx context.Context, labels []string) (bool, error)
	State(ctx context.Context) (*session.State, error)
	Restore(ctx context.Context, st *session.State) error
	Close() error
}

// Factory opens a new browser.
type Factory func(ctx context.Context) (Browser, error)

// NewFactory returns a factory for the configured engine.
func NewFactory(cfg config.BrowserConfig, log logger.Logger) Factory {
	return func(ctx context.Context) (Browser, error) {
		switch cfg.Engine {
		case "http":
			return NewHTTP(HTTPOptions{
				UserAgent: cfg.UserAgent,
				Locale:    cfg.Locale,
				Timeout:   cfg.NavigationTimeout,
			}, log)
		case "chrome", "":
			return NewChrome(ctx, ChromeOptions{
				Headless:         cfg.Headless,
				UseChromeChannel: cfg.UseChromeChannel,
				ExecPath:         cfg.ExecPath,
				UserAgent:        cfg.UserAgent,
				Locale:           cfg.Locale,
				Timezone:         cfg.Timezone,
				Timeout:          cfg.NavigationTimeout,
				BlockResources:   cfg.BlockResources,
			}, log)
		default:
			return nil, errs.New(errs.ErrorTypeConfig, fmt.Sprintf("unknown browser engine %q", cfg.Engine))
		}
	}
}

// navigationError classifies a failed navigation. Caller cancellation is
// passed through untouched; everything else is transient.
func navigationError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &errs.Error{
		Type:    errs.ErrorTypeTransient,
		Message: "navigation failed",
		URL:     rawURL,
		Err:     err,
	}
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Observer receives navigation timings.
type Observer interface {
	ObserveNavigation(d time.Duration, status int, err error)
}
