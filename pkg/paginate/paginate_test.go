package paginate

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/gate"
	"docharvest/pkg/logger"
	"docharvest/pkg/retry"
	"docharvest/pkg/session"
)

const (
	site    = "https://www.justice.gov"
	pattern = `/epstein/files/DataSet(?:%20| )(?P<dataset>\d+)/(?P<id>EFTA\d{8})\.pdf$`
)

func listingURL(n int) string {
	return fmt.Sprintf("%s/epstein/doj-disclosures/data-set-%d-files", site, n)
}

func doc(dataset, id int) string {
	return fmt.Sprintf(`<a href="/epstein/files/DataSet%%20%d/EFTA%08d.pdf">EFTA%08d</a>`, dataset, id, id)
}

func htmlPage(body ...string) *browser.Response {
	return &browser.Response{Status: 200, ContentType: "text/html", Body: []byte("<html><body>" + strings.Join(body, "\n") + "</body></html>")}
}

type fakeSite struct {
	serve func(rawURL string, call int) (*browser.Response, error)
	calls []string
}

func (f *fakeSite) Navigate(ctx context.Context, rawURL, referer string) (*browser.Response, error) {
	f.calls = append(f.calls, rawURL)
	resp, err := f.serve(rawURL, len(f.calls))
	if resp != nil && resp.URL == "" {
		resp.URL = rawURL
	}
	return resp, err
}
func (f *fakeSite) Confirm(ctx context.Context, labels []string) (bool, error) { return false, nil }
func (f *fakeSite) State(ctx context.Context) (*session.State, error)          { return &session.State{}, nil }
func (f *fakeSite) Restore(ctx context.Context, st *session.State) error       { return nil }
func (f *fakeSite) Close() error                                               { return nil }

type fakeGate struct {
	reclears int
	err      error
}

func (g *fakeGate) Reclear(ctx context.Context, b browser.Browser) error {
	g.reclears++
	return g.err
}
func (g *fakeGate) Detector() gate.Detector { return gate.Detector{URLMarker: "age-verify"} }

func newPaginator(t *testing.T, g Gate, log logger.Logger, mutate ...func(*Options)) *Paginator {
	t.Helper()
	re, err := CompilePattern(pattern)
	require.NoError(t, err)
	opts := Options{
		ListingURL: listingURL,
		Pattern:    re,
		MaxPages:   50,
		StopAfter:  1,
		Retry: &retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
			RetryIf:     retry.DefaultRetryIf,
		},
		Gate:   g,
		Logger: log,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}

func pageNumber(rawURL string) int {
	var n int
	if i := strings.Index(rawURL, "page="); i >= 0 {
		fmt.Sscanf(rawURL[i+5:], "%d", &n)
	}
	return n
}

// repeatingSite serves n pages with two fresh links each, then repeats the
// last page forever.
func repeatingSite(n int) *fakeSite {
	return &fakeSite{serve: func(rawURL string, call int) (*browser.Response, error) {
		p := min(pageNumber(rawURL), n-1)
		return htmlPage(doc(1, p*2+1), doc(1, p*2+2)), nil
	}}
}

func TestPaginationTerminatesOnRepeatedPages(t *testing.T) {
	for _, stopAfter := range []int{1, 2} {
		t.Run(fmt.Sprintf("stop_after=%d", stopAfter), func(t *testing.T) {
			b := repeatingSite(3)
			log := logger.NewTestLogger()
			p := newPaginator(t, &fakeGate{}, log, func(o *Options) { o.StopAfter = stopAfter })

			set, err := p.Collect(context.Background(), b, 1)
			require.NoError(t, err)
			assert.Equal(t, 6, set.Len())
			assert.Len(t, b.calls, 3+stopAfter)
			assert.Equal(t, 1, log.Count(logger.MsgPaginationStopped))
		})
	}
}

func TestEmptyFirstPageStopsImmediately(t *testing.T) {
	b := &fakeSite{serve: func(string, int) (*browser.Response, error) {
		return htmlPage(`<p>No files</p>`), nil
	}}
	log := logger.NewTestLogger()
	p := newPaginator(t, &fakeGate{}, log)

	set, err := p.Collect(context.Background(), b, 2)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	assert.Equal(t, []string{listingURL(2)}, b.calls)
	assert.Equal(t, 1, log.Count(logger.MsgPaginationStopped))
}

func TestPaginationRunaway(t *testing.T) {
	b := &fakeSite{serve: func(rawURL string, call int) (*browser.Response, error) {
		return htmlPage(doc(1, call)), nil
	}}
	log := logger.NewTestLogger()
	p := newPaginator(t, &fakeGate{}, log, func(o *Options) { o.MaxPages = 5 })

	set, err := p.Collect(context.Background(), b, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypePaginationRunaway))
	assert.Len(t, b.calls, 5)
	assert.Equal(t, 5, set.Len())
	assert.Zero(t, log.Count(logger.MsgPaginationStopped))
}

func TestPagesRefererChain(t *testing.T) {
	var referers []string
	b := repeatingSite(2)
	wrapped := &refererRecorder{Browser: b, referers: &referers}
	p := newPaginator(t, &fakeGate{}, logger.NewNopLogger(), func(o *Options) { o.Referer = site + "/epstein" })

	set, err := p.Collect(context.Background(), wrapped, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{site + "/epstein", listingURL(1), listingURL(1) + "?page=1"}, referers)

	links := set.Links()
	assert.Equal(t, listingURL(1), links[0].Referer)
	assert.Equal(t, listingURL(1)+"?page=1", links[2].Referer)
	assert.Equal(t, 1, links[2].Page)
}

type refererRecorder struct {
	browser.Browser
	referers *[]string
}

func (r *refererRecorder) Navigate(ctx context.Context, rawURL, referer string) (*browser.Response, error) {
	*r.referers = append(*r.referers, referer)
	return r.Browser.Navigate(ctx, rawURL, referer)
}

func TestGateRedirectTriggersOneReclear(t *testing.T) {
	b := &fakeSite{serve: func(rawURL string, call int) (*browser.Response, error) {
		if call == 1 {
			return &browser.Response{URL: site + "/age-verify", Status: 200, ContentType: "text/html"}, nil
		}
		return htmlPage(doc(1, 1)), nil
	}}
	g := &fakeGate{}
	p := newPaginator(t, g, logger.NewNopLogger())

	set, err := p.Collect(context.Background(), b, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, g.reclears)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, []string{listingURL(1), listingURL(1), listingURL(1) + "?page=1"}, b.calls)
}

func TestRepeatedGateHitFailsDataset(t *testing.T) {
	b := &fakeSite{serve: func(string, int) (*browser.Response, error) {
		return &browser.Response{URL: site + "/age-verify", Status: 200, ContentType: "text/html"}, nil
	}}
	g := &fakeGate{}
	p := newPaginator(t, g, logger.NewNopLogger())

	_, err := p.Collect(context.Background(), b, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeGateFailed))
	assert.Equal(t, 1, g.reclears)
	assert.Len(t, b.calls, 2)
}

func TestUnauthorizedListingReclears(t *testing.T) {
	b := &fakeSite{serve: func(rawURL string, call int) (*browser.Response, error) {
		if call == 1 {
			return &browser.Response{Status: 403, ContentType: "text/html"}, nil
		}
		return htmlPage(), nil
	}}
	g := &fakeGate{}
	p := newPaginator(t, g, logger.NewNopLogger())

	_, err := p.Collect(context.Background(), b, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, g.reclears)
}

func TestListingErrors(t *testing.T) {
	t.Run("transient exhausted", func(t *testing.T) {
		b := &fakeSite{serve: func(string, int) (*browser.Response, error) {
			return &browser.Response{Status: 503}, nil
		}}
		p := newPaginator(t, &fakeGate{}, logger.NewNopLogger())
		_, err := p.Collect(context.Background(), b, 1)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrorTypeTransient))
		assert.Len(t, b.calls, 3)
	})

	t.Run("not found", func(t *testing.T) {
		b := &fakeSite{serve: func(string, int) (*browser.Response, error) {
			return &browser.Response{Status: 404}, nil
		}}
		p := newPaginator(t, &fakeGate{}, logger.NewNopLogger())
		_, err := p.Collect(context.Background(), b, 1)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrorTypeHTTPStatus))
		assert.Len(t, b.calls, 1)
	})

	t.Run("recovers after transient", func(t *testing.T) {
		b := &fakeSite{serve: func(rawURL string, call int) (*browser.Response, error) {
			if call == 1 {
				return nil, errs.New(errs.ErrorTypeTransient, "timeout")
			}
			return htmlPage(), nil
		}}
		p := newPaginator(t, &fakeGate{}, logger.NewNopLogger())
		_, err := p.Collect(context.Background(), b, 1)
		require.NoError(t, err)
		assert.Len(t, b.calls, 2)
	})
}

func TestPagesStopsWhenConsumerBreaks(t *testing.T) {
	b := repeatingSite(10)
	p := newPaginator(t, &fakeGate{}, logger.NewNopLogger())

	var seen []int
	for page, err := range p.Pages(context.Background(), b, 1) {
		require.NoError(t, err)
		seen = append(seen, page.Number)
		if page.Number == 1 {
			break
		}
	}
	assert.Equal(t, []int{0, 1}, seen)
	assert.Len(t, b.calls, 2)
}

func TestPagesCancelled(t *testing.T) {
	b := repeatingSite(10)
	p := newPaginator(t, &fakeGate{}, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var last error
	for page, err := range p.Pages(ctx, b, 1) {
		if err != nil {
			last = err
			break
		}
		if page.Number == 0 {
			cancel()
		}
	}
	assert.ErrorIs(t, last, context.Canceled)
}

func TestExtractLinks(t *testing.T) {
	re, err := CompilePattern(pattern)
	require.NoError(t, err)

	resp := htmlPage(
		doc(1, 11),
		`<a href="/epstein/files/DataSet 1/EFTA00000012.pdf">spaced</a>`,
		`<a href="https://www.justice.gov/epstein/files/DataSet%201/EFTA00000013.pdf#page=2">fragment</a>`,
		doc(2, 21),
		`<a href="/epstein/files/DataSet%201/EFTA00000014.txt">wrong ext</a>`,
		`<a href="/epstein/files/DataSet%201/notes.pdf">wrong id</a>`,
		`<a href="/about">about</a>`,
	)
	resp.URL = listingURL(1)

	links, err := ExtractLinks(resp, re, 1, 0, listingURL(1))
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "EFTA00000011", links[0].ID)
	assert.Equal(t, site+"/epstein/files/DataSet%201/EFTA00000011.pdf", links[0].URL)
	assert.Equal(t, "EFTA00000012", links[1].ID)
	assert.Equal(t, "EFTA00000013", links[2].ID)
	assert.NotContains(t, links[2].URL, "#")
	for _, l := range links {
		assert.Equal(t, 1, l.Dataset)
		assert.Equal(t, listingURL(1), l.Referer)
	}
}

func TestCompilePattern(t *testing.T) {
	_, err := CompilePattern(`/files/(?P<id>\d+)\.pdf`)
	assert.Error(t, err)
	_, err = CompilePattern(`(`)
	assert.Error(t, err)
	re, err := CompilePattern(pattern)
	require.NoError(t, err)
	assert.NotNil(t, re)
}

func TestPageURL(t *testing.T) {
	assert.Equal(t, listingURL(3), PageURL(listingURL(3), 0))
	assert.Equal(t, listingURL(3)+"?page=4", PageURL(listingURL(3), 4))
	assert.Equal(t, "https://s/x?page=2&sort=a", PageURL("https://s/x?sort=a", 2))
}
