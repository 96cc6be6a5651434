package paginate

import (
	"context"
	"iter"
	"regexp"

	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/gate"
	"docharvest/pkg/linkset"
	"docharvest/pkg/logger"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/retry"
)

// Gate is the part of the gate handler the paginator needs.
type Gate interface {
	Reclear(ctx context.Context, b browser.Browser) error
	Detector() gate.Detector
}

// Page is one fetched listing page.
type Page struct {
	Dataset int
	Number  int
	URL     string
	// Links are the matching links on this page, repeats included.
	Links []linkset.Link
	// New counts links not seen on earlier pages.
	New int
	// Seen is every distinct link found so far for the dataset.
	Seen *linkset.Set
}

// Options configures a Paginator.
type Options struct {
	// ListingURL returns the bare listing URL of a dataset.
	ListingURL func(dataset int) string
	// Referer is sent with the first listing page.
	Referer  string
	Pattern  *regexp.Regexp
	MaxPages int
	// StopAfter is the number of consecutive pages without new links
	// that ends the walk.
	StopAfter int
	Pace      ratelimit.Jitter
	Retry     *retry.Config
	Gate      Gate
	Logger    logger.Logger
}

// Paginator walks listing pages.
type Paginator struct {
	opts Options
}

// New creates a Paginator.
func New(opts Options) *Paginator {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5000
	}
	if opts.StopAfter <= 0 {
		opts.StopAfter = 1
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Paginator{opts: opts}
}

// Pages yields listing pages of dataset in order until a page adds no new
// links. A failure is yielded once as the final element.
func (p *Paginator) Pages(ctx context.Context, b browser.Browser, dataset int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		base := p.opts.ListingURL(dataset)
		referer := p.opts.Referer
		log := p.opts.Logger.WithField("dataset", dataset)

		var seen *linkset.Set
		idle := 0
		for n := 0; ; n++ {
			pageURL := PageURL(base, n)
			if n >= p.opts.MaxPages {
				yield(Page{Dataset: dataset, Number: n, URL: pageURL, Seen: seen}, &errs.Error{
					Type:    errs.ErrorTypePaginationRunaway,
					Message: "page cap reached without running out of new links",
					URL:     pageURL,
				})
				return
			}
			if n > 0 {
				if err := p.opts.Pace.Wait(ctx); err != nil {
					yield(Page{Dataset: dataset, Number: n, URL: pageURL, Seen: seen}, err)
					return
				}
			}

			resp, err := p.fetch(ctx, b, pageURL, referer)
			if err != nil {
				yield(Page{Dataset: dataset, Number: n, URL: pageURL, Seen: seen}, err)
				return
			}
			links, err := ExtractLinks(resp, p.opts.Pattern, dataset, n, pageURL)
			if err != nil {
				yield(Page{Dataset: dataset, Number: n, URL: pageURL, Seen: seen}, err)
				return
			}

			var added int
			seen, added = linkset.Merge(seen, links)
			log.InfoWithFields("index page fetched", map[string]interface{}{
				"page":  n,
				"links": len(links),
				"new":   added,
				"total": seen.Len(),
			})
			if !yield(Page{Dataset: dataset, Number: n, URL: pageURL, Links: links, New: added, Seen: seen}, nil) {
				return
			}

			if added == 0 {
				idle++
			} else {
				idle = 0
			}
			if idle >= p.opts.StopAfter {
				log.InfoWithFields(logger.MsgPaginationStopped, map[string]interface{}{
					"page":  n,
					"total": seen.Len(),
				})
				return
			}
			referer = pageURL
		}
	}
}

// Collect walks every page of dataset and returns the distinct links in
// discovered order.
func (p *Paginator) Collect(ctx context.Context, b browser.Browser, dataset int) (*linkset.Set, error) {
	var seen *linkset.Set
	for page, err := range p.Pages(ctx, b, dataset) {
		if err != nil {
			return page.Seen, err
		}
		seen = page.Seen
	}
	if seen == nil {
		seen = linkset.New()
	}
	return seen, nil
}

// fetch loads a listing page. Landing on the gate, or being refused,
// triggers one re-verification and a refetch.
func (p *Paginator) fetch(ctx context.Context, b browser.Browser, pageURL, referer string) (*browser.Response, error) {
	for reclears := 0; ; reclears++ {
		resp, err := retry.DoWithResult(ctx, p.opts.Retry, func() (*browser.Response, error) {
			resp, err := b.Navigate(ctx, pageURL, referer)
			if err != nil {
				return nil, err
			}
			if e := errs.FromStatus(resp.Status, resp.URL); e != nil && e.Type == errs.ErrorTypeTransient {
				return nil, e
			}
			return resp, nil
		})
		if err != nil {
			return nil, err
		}

		statusErr := errs.FromStatus(resp.Status, resp.URL)
		gated := p.gated(resp)
		if !gated && statusErr == nil {
			return resp, nil
		}
		if statusErr != nil && statusErr.Type != errs.ErrorTypeUnauthorized {
			return nil, statusErr
		}
		if reclears > 0 || p.opts.Gate == nil {
			return nil, &errs.Error{
				Type:    errs.ErrorTypeGateFailed,
				Message: "listing page still blocked after re-verification",
				Code:    resp.Status,
				URL:     pageURL,
			}
		}

		p.opts.Logger.WarnWithFields("listing page landed on the gate", map[string]interface{}{
			"url":       pageURL,
			"final_url": resp.URL,
			"status":    resp.Status,
		})
		if err := p.opts.Gate.Reclear(ctx, b); err != nil {
			return nil, err
		}
	}
}

func (p *Paginator) gated(resp *browser.Response) bool {
	if p.opts.Gate == nil {
		return false
	}
	return p.opts.Gate.Detector().Gated(resp)
}
