package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/session"
)

const gatedCookie = "age_verified"

type gatedSite struct {
	mu       sync.Mutex
	referers []string
}

func (g *gatedSite) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.referers = append(g.referers, r.Header.Get("Referer"))
		g.mu.Unlock()
		if _, err := r.Cookie(gatedCookie); err != nil {
			http.Redirect(w, r, "/age-verify", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><a href="/files/a.pdf">a</a></body></html>`))
	})
	mux.HandleFunc("/age-verify", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>Are you 18?</p><a href="/confirm">No thanks</a> <a href="/confirm?ok=1"> Yes </a></body></html>`))
	})
	mux.HandleFunc("/form-gate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><form method="post" action="/confirm-post">
<input type="hidden" name="token" value="t1">
<input type="checkbox" name="remember" value="on">
<input type="submit" name="answer" value="Yes">
</form></body></html>`))
	})
	mux.HandleFunc("/confirm", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ok") != "1" {
			http.Redirect(w, r, "/age-verify", http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: gatedCookie, Value: "1", Path: "/"})
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("/confirm-post", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.FormValue("token") != "t1" || r.FormValue("answer") != "Yes" || r.FormValue("remember") != "" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: gatedCookie, Value: "1", Path: "/"})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
	mux.HandleFunc("/files/a.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7 test"))
	})
	return mux
}

func newTestHTTP(t *testing.T, rt http.RoundTripper) *HTTP {
	t.Helper()
	h, err := NewHTTP(HTTPOptions{UserAgent: "docharvest-test", Locale: "en-AU", Timeout: 5 * time.Second, Transport: rt}, logger.NewNopLogger())
	require.NoError(t, err)
	return h
}

func TestHTTPNavigateFollowsRedirects(t *testing.T) {
	site := &gatedSite{}
	srv := httptest.NewServer(site.handler())
	defer srv.Close()

	h := newTestHTTP(t, nil)
	resp, err := h.Navigate(context.Background(), srv.URL+"/", "https://example.org/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, srv.URL+"/age-verify", resp.URL)
	assert.Contains(t, resp.ContentType, "text/html")
	assert.Equal(t, "https://example.org/", site.referers[0])
}

func TestHTTPConfirmFollowsLink(t *testing.T) {
	srv := httptest.NewServer((&gatedSite{}).handler())
	defer srv.Close()
	ctx := context.Background()

	h := newTestHTTP(t, nil)
	_, err := h.Navigate(ctx, srv.URL+"/", "")
	require.NoError(t, err)

	ok, err := h.Confirm(ctx, []string{"Yes"})
	require.NoError(t, err)
	assert.True(t, ok)

	resp, err := h.Navigate(ctx, srv.URL+"/", "")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/", resp.URL)
}

func TestHTTPConfirmSubmitsForm(t *testing.T) {
	srv := httptest.NewServer((&gatedSite{}).handler())
	defer srv.Close()
	ctx := context.Background()

	h := newTestHTTP(t, nil)
	_, err := h.Navigate(ctx, srv.URL+"/form-gate", "")
	require.NoError(t, err)

	ok, err := h.Confirm(ctx, []string{"yes"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, srv.URL+"/", h.last.URL)
	assert.Equal(t, http.StatusOK, h.last.Status)
}

func TestHTTPConfirmWithoutControl(t *testing.T) {
	srv := httptest.NewServer((&gatedSite{}).handler())
	defer srv.Close()

	h := newTestHTTP(t, nil)
	ok, err := h.Confirm(context.Background(), []string{"Yes"})
	require.NoError(t, err)
	assert.False(t, ok, "nothing loaded yet")

	_, err = h.Navigate(context.Background(), srv.URL+"/age-verify", "")
	require.NoError(t, err)
	ok, err = h.Confirm(context.Background(), []string{"Enter"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPStateRoundTrip(t *testing.T) {
	srv := httptest.NewServer((&gatedSite{}).handler())
	defer srv.Close()
	ctx := context.Background()

	first := newTestHTTP(t, nil)
	_, err := first.Navigate(ctx, srv.URL+"/confirm?ok=1", "")
	require.NoError(t, err)

	st, err := first.State(ctx)
	require.NoError(t, err)
	require.Len(t, st.Cookies, 1)
	assert.Equal(t, gatedCookie, st.Cookies[0].Name)
	assert.Equal(t, "127.0.0.1", st.Cookies[0].Domain)

	st.Origins = []session.Origin{{Origin: srv.URL, LocalStorage: []session.StorageItem{{Name: "k", Value: "v"}}}}

	second := newTestHTTP(t, nil)
	require.NoError(t, second.Restore(ctx, st))
	resp, err := second.Navigate(ctx, srv.URL+"/", "")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/", resp.URL, "restored cookie passes the gate")

	again, err := second.State(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Cookies, 1)
	assert.Equal(t, st.Origins, again.Origins)
}

func TestHTTPRestoreSkipsExpiredCookies(t *testing.T) {
	srv := httptest.NewServer((&gatedSite{}).handler())
	defer srv.Close()
	ctx := context.Background()

	h := newTestHTTP(t, nil)
	require.NoError(t, h.Restore(ctx, &session.State{Cookies: []session.Cookie{{
		Name: gatedCookie, Value: "1", Domain: "127.0.0.1", Path: "/",
		Expires: float64(time.Now().Add(-time.Hour).Unix()),
	}}}))

	resp, err := h.Navigate(ctx, srv.URL+"/", "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(resp.URL, "/age-verify"))
}

func TestHTTPTransportErrorIsTransient(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://docs.example/files/a.pdf",
		httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	h := newTestHTTP(t, mock)
	_, err := h.Navigate(context.Background(), "https://docs.example/files/a.pdf", "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeTransient))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestHTTPReportsErrorStatusInResponse(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://docs.example/missing.pdf",
		httpmock.NewStringResponder(http.StatusNotFound, "not here").HeaderSet(http.Header{"Content-Type": {"text/plain"}}))
	mock.RegisterResponder(http.MethodGet, "https://docs.example/a.pdf",
		httpmock.NewBytesResponder(http.StatusOK, []byte("%PDF-1.4")).HeaderSet(http.Header{"Content-Type": {"application/pdf"}}))

	h := newTestHTTP(t, mock)
	resp, err := h.Navigate(context.Background(), "https://docs.example/missing.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	resp, err = h.Navigate(context.Background(), "https://docs.example/a.pdf", "https://docs.example/list")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", resp.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), resp.Body)
}

func TestHTTPNavigateCancelled(t *testing.T) {
	mock := httpmock.NewMockTransport()
	h := newTestHTTP(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Navigate(ctx, "https://docs.example/", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mock.GetTotalCallCount())
}

// stalledResponder never answers until the test ends.
func stalledResponder(t *testing.T) httpmock.Responder {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return func(req *http.Request) (*http.Response, error) {
		<-release
		return httpmock.NewStringResponse(http.StatusOK, "late"), nil
	}
}

func TestHTTPNavigateCancelledInFlight(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://docs.example/slow.pdf", stalledResponder(t))
	h := newTestHTTP(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := h.Navigate(ctx, "https://docs.example/slow.pdf", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestHTTPNavigateHonorsCallerDeadline(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://docs.example/slow.pdf", stalledResponder(t))
	h := newTestHTTP(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Navigate(ctx, "https://docs.example/slow.pdf", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPStripsRequestIDHeader(t *testing.T) {
	var seen http.Header
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://docs.example/a.pdf",
		func(req *http.Request) (*http.Response, error) {
			seen = req.Header.Clone()
			return httpmock.NewBytesResponse(http.StatusOK, []byte("%PDF-1.4")), nil
		})
	h := newTestHTTP(t, mock)

	_, err := h.Navigate(context.Background(), "https://docs.example/a.pdf", "")
	require.NoError(t, err)
	assert.Empty(t, seen.Get(requestIDHeader))
	assert.Equal(t, "docharvest-test", seen.Get("User-Agent"))
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "en-AU,en;q=0.9", acceptLanguage("en-AU"))
	assert.Equal(t, "de;q=0.9", acceptLanguage("de"))
	assert.Equal(t, "en-US,en;q=0.9", acceptLanguage(""))
}
