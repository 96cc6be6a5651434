package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/session"
)

const (
	responseKey = "response"
	// requestIDHeader ties an outgoing request to its caller's context. It
	// is stripped before the request leaves the process.
	requestIDHeader = "X-Docharvest-Request"
)

// HTTPOptions configures the HTTP engine.
type HTTPOptions struct {
	UserAgent string
	Locale    string
	Timeout   time.Duration
	// Transport replaces the default round tripper, mainly for tests.
	Transport http.RoundTripper
}

// HTTP is a browser without a rendering engine. It follows redirects,
// keeps cookies and submits simple confirmation links and forms. It cannot
// pass gates that depend on script execution.
type HTTP struct {
	collector *colly.Collector
	headers   map[string]string
	logger    logger.Logger

	mu      sync.Mutex
	last    *Response
	visited map[string]struct{}
	origins []session.Origin

	seq      atomic.Uint64
	inflight sync.Map // request id -> context.Context
}

// boundTransport runs every request under the context registered for its
// request id, so cancellation and deadlines reach the connection.
type boundTransport struct {
	next http.RoundTripper
	h    *HTTP
}

func (t *boundTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := req.Header.Get(requestIDHeader)
	if id == "" {
		return t.next.RoundTrip(req)
	}
	caller, ok := t.h.inflight.Load(id)
	if !ok {
		out := req.Clone(req.Context())
		out.Header.Del(requestIDHeader)
		return t.next.RoundTrip(out)
	}

	// The client's own timeout lives on req's context; keep it and add the
	// caller's cancellation on top.
	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(caller.(context.Context), cancel)
	release := func() {
		stop()
		cancel()
	}

	out := req.Clone(ctx)
	out.Header.Del(requestIDHeader)
	resp, err := t.next.RoundTrip(out)
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// releasingBody frees the request context once the body is closed.
type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// NewHTTP creates an HTTP engine with an empty cookie jar.
func NewHTTP(opts HTTPOptions, log logger.Logger) (*HTTP, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(0),
		colly.ParseHTTPErrorResponse(),
	)
	c.SetRequestTimeout(opts.Timeout)
	c.SetCookieJar(jar)
	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
	})

	h := &HTTP{
		collector: c,
		headers: map[string]string{
			"User-Agent":      opts.UserAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,*/*;q=0.8",
			"Accept-Language": acceptLanguage(opts.Locale),
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
			"Sec-Fetch-Dest":  "document",
			"Sec-Fetch-Mode":  "navigate",
			"Sec-Fetch-User":  "?1",
		},
		logger:  log,
		visited: make(map[string]struct{}),
	}

	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c.WithTransport(&boundTransport{next: next, h: h})
	return h, nil
}

func acceptLanguage(locale string) string {
	if locale == "" {
		return "en-US,en;q=0.9"
	}
	lang, _, _ := strings.Cut(locale, "-")
	if lang == locale {
		return locale + ";q=0.9"
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, lang)
}

// Navigate implements Browser.
func (h *HTTP) Navigate(ctx context.Context, rawURL, referer string) (*Response, error) {
	return h.do(ctx, http.MethodGet, rawURL, referer, nil)
}

func (h *HTTP) do(ctx context.Context, method, rawURL, referer string, body io.Reader) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hdr := http.Header{}
	for k, v := range h.headers {
		if v != "" {
			hdr.Set(k, v)
		}
	}
	if referer != "" {
		hdr.Set("Referer", referer)
		hdr.Set("Sec-Fetch-Site", "same-origin")
	} else {
		hdr.Set("Sec-Fetch-Site", "none")
	}

	start := time.Now()
	h.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": method,
		"url":    rawURL,
	})

	id := strconv.FormatUint(h.seq.Add(1), 10)
	hdr.Set(requestIDHeader, id)
	h.inflight.Store(id, ctx)

	cctx := colly.NewContext()
	done := make(chan error, 1)
	go func() {
		defer h.inflight.Delete(id)
		done <- h.collector.Request(method, rawURL, body, cctx, hdr)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	duration := time.Since(start)
	if err != nil {
		h.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"url":      rawURL,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, navigationError(ctx, rawURL, err)
	}

	r, ok := cctx.GetAny(responseKey).(*colly.Response)
	if !ok {
		return nil, &errs.Error{Type: errs.ErrorTypeTransient, Message: "no response received", URL: rawURL}
	}
	resp := &Response{
		URL:         r.Request.URL.String(),
		Status:      r.StatusCode,
		ContentType: r.Headers.Get("Content-Type"),
		Body:        r.Body,
	}

	h.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   method,
		"url":      resp.URL,
		"status":   resp.Status,
		"duration": duration,
	})

	h.mu.Lock()
	h.last = resp
	if o := originOf(resp.URL); o != "" {
		h.visited[o] = struct{}{}
	}
	if o := originOf(rawURL); o != "" {
		h.visited[o] = struct{}{}
	}
	h.mu.Unlock()

	return resp, nil
}

// Confirm follows a link or submits a form whose visible label matches.
func (h *HTTP) Confirm(ctx context.Context, labels []string) (bool, error) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last == nil || len(last.Body) == 0 {
		return false, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(last.Body))
	if err != nil {
		return false, nil
	}
	base, err := url.Parse(last.URL)
	if err != nil {
		return false, nil
	}

	var target string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !matchesLabel(s.Text(), labels) {
			return true
		}
		if u, err := base.Parse(strings.TrimSpace(s.AttrOr("href", ""))); err == nil {
			target = u.String()
		}
		return false
	})
	if target != "" {
		h.logger.DebugWithFields("following confirmation link", map[string]interface{}{"url": target})
		if _, err := h.Navigate(ctx, target, last.URL); err != nil {
			return false, err
		}
		return true, nil
	}

	form, submitter := findConfirmForm(doc, labels)
	if form == nil {
		return false, nil
	}

	values := formValues(form)
	if name, ok := submitter.Attr("name"); ok && name != "" {
		values.Set(name, submitter.AttrOr("value", ""))
	}
	action, err := base.Parse(strings.TrimSpace(form.AttrOr("action", "")))
	if err != nil {
		return false, nil
	}

	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	h.logger.DebugWithFields("submitting confirmation form", map[string]interface{}{
		"url":    action.String(),
		"method": method,
	})
	if method == http.MethodPost {
		_, err = h.do(ctx, http.MethodPost, action.String(), last.URL, strings.NewReader(values.Encode()))
	} else {
		action.RawQuery = values.Encode()
		_, err = h.Navigate(ctx, action.String(), last.URL)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func findConfirmForm(doc *goquery.Document, labels []string) (form, submitter *goquery.Selection) {
	doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		f.Find(`button, input[type="submit"], input[type="button"]`).EachWithBreak(func(_ int, b *goquery.Selection) bool {
			label := b.Text()
			if goquery.NodeName(b) == "input" {
				label = b.AttrOr("value", "")
			}
			if matchesLabel(label, labels) {
				form, submitter = f, b
				return false
			}
			return true
		})
		return form == nil
	})
	return form, submitter
}

func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		}
		values.Add(in.AttrOr("name", ""), in.AttrOr("value", ""))
	})
	return values
}

// State exports the cookies of every origin visited or restored.
// Cookie attributes other than name and value are not visible through a
// cookie jar, so exported cookies are host-scoped session cookies.
func (h *HTTP) State(ctx context.Context) (*session.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := &session.State{Origins: make([]session.Origin, 0, len(h.origins))}
	seen := make(map[string]struct{})
	for origin := range h.visited {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		for _, c := range h.collector.Cookies(origin + "/") {
			key := u.Hostname() + "\x00" + c.Name
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			st.Cookies = append(st.Cookies, session.Cookie{
				Name:    c.Name,
				Value:   c.Value,
				Domain:  u.Hostname(),
				Path:    "/",
				Expires: -1,
				Secure:  u.Scheme == "https",
			})
		}
	}
	st.Origins = append(st.Origins, h.origins...)
	return st, nil
}

// Restore loads unexpired cookies into the jar. Local storage has no
// meaning without a script engine and is carried through unchanged.
func (h *HTTP) Restore(ctx context.Context, st *session.State) error {
	if st == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range st.LiveCookies(time.Now()) {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		origin := scheme + "://" + host
		if err := h.collector.SetCookies(origin+path, []*http.Cookie{hc}); err != nil {
			return fmt.Errorf("failed to restore cookie %s: %w", c.Name, err)
		}
		h.visited[origin] = struct{}{}
	}
	h.origins = append(h.origins[:0], st.Clone().Origins...)
	return nil
}

// Close implements Browser.
func (h *HTTP) Close() error {
	return nil
}
