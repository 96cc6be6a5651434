package browser

import (
	"context"
	"time"

	"docharvest/pkg/ratelimit"
)

type limited struct {
	Browser
	limiter ratelimit.Limiter
}

// WithLimiter makes every navigation wait for the limiter first.
func WithLimiter(b Browser, l ratelimit.Limiter) Browser {
	if l == nil {
		return b
	}
	return &limited{Browser: b, limiter: l}
}

func (l *limited) Navigate(ctx context.Context, rawURL, referer string) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Browser.Navigate(ctx, rawURL, referer)
}

type observed struct {
	Browser
	obs Observer
}

// WithObserver reports the duration and status of every navigation.
func WithObserver(b Browser, obs Observer) Browser {
	if obs == nil {
		return b
	}
	return &observed{Browser: b, obs: obs}
}

func (o *observed) Navigate(ctx context.Context, rawURL, referer string) (*Response, error) {
	start := time.Now()
	resp, err := o.Browser.Navigate(ctx, rawURL, referer)
	status := 0
	if resp != nil {
		status = resp.Status
	}
	o.obs.ObserveNavigation(time.Since(start), status, err)
	return resp, err
}
