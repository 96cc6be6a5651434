package downloader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/gate"
	"docharvest/pkg/linkset"
	"docharvest/pkg/logger"
	"docharvest/pkg/retry"
	"docharvest/pkg/session"
)

var pdfBody = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")

func pdfResponse() (*browser.Response, error) {
	return &browser.Response{Status: 200, ContentType: "application/pdf", Body: pdfBody}, nil
}

// docBrowser replays scripted responses; the last one repeats.
type docBrowser struct {
	mu        sync.Mutex
	script    []func() (*browser.Response, error)
	calls     int
	referers  []string
	delay     time.Duration
	navigated chan struct{}
}

func (d *docBrowser) Navigate(ctx context.Context, rawURL, referer string) (*browser.Response, error) {
	d.mu.Lock()
	d.calls++
	d.referers = append(d.referers, referer)
	step := d.script[min(d.calls, len(d.script))-1]
	d.mu.Unlock()
	if d.navigated != nil {
		select {
		case d.navigated <- struct{}{}:
		default:
		}
	}
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	resp, err := step()
	if resp != nil && resp.URL == "" {
		resp.URL = rawURL
	}
	return resp, err
}

func (d *docBrowser) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *docBrowser) Confirm(ctx context.Context, labels []string) (bool, error) { return false, nil }
func (d *docBrowser) State(ctx context.Context) (*session.State, error)          { return &session.State{}, nil }
func (d *docBrowser) Restore(ctx context.Context, st *session.State) error       { return nil }
func (d *docBrowser) Close() error                                               { return nil }

func newExecutor() *Executor {
	return NewExecutor(ExecutorOptions{
		Retry: &retry.Config{
			MaxAttempts: 4,
			Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
			RetryIf:     retry.DefaultRetryIf,
		},
		Timeout:    time.Second,
		Detector:   gate.Detector{URLMarker: "age-verify"},
		TempSuffix: ".part",
		Logger:     logger.NewNopLogger(),
	})
}

func testLink(id string) linkset.Link {
	return linkset.Link{
		ID:      id,
		URL:     "https://site.example/files/DataSet%201/" + id + ".pdf",
		Referer: "https://site.example/data-set-1-files",
		Dataset: 1,
	}
}

func TestDownloadWritesDocument(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "EFTA00000001.pdf")
	b := &docBrowser{script: []func() (*browser.Response, error){pdfResponse}}

	res, err := newExecutor().Download(context.Background(), b, testLink("EFTA00000001"), target)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, res.Outcome)
	assert.Equal(t, int64(len(pdfBody)), res.Bytes)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"https://site.example/data-set-1-files"}, b.referers)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, pdfBody, data)
	assert.NoFileExists(t, target+".part")
}

func TestDownloadAcceptsPDFSignatureUnderHTMLContentType(t *testing.T) {
	target := filepath.Join(t.TempDir(), "EFTA00000009.pdf")
	b := &docBrowser{script: []func() (*browser.Response, error){
		func() (*browser.Response, error) {
			return &browser.Response{Status: 200, ContentType: "text/html; charset=utf-8", Body: pdfBody}, nil
		},
	}}

	res, err := newExecutor().Download(context.Background(), b, testLink("EFTA00000009"), target)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, res.Outcome)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, pdfBody, data)
}

func TestDownloadSkipsExistingFileWithoutNetwork(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "EFTA00000001.pdf")
	require.NoError(t, os.WriteFile(target, pdfBody, 0o644))
	b := &docBrowser{script: []func() (*browser.Response, error){pdfResponse}}

	res, err := newExecutor().Download(context.Background(), b, testLink("EFTA00000001"), target)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Outcome)
	assert.Zero(t, b.Calls())
}

func TestDownloadReplacesEmptyFileAndStaleTemp(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "EFTA00000001.pdf")
	require.NoError(t, os.WriteFile(target, nil, 0o644))
	require.NoError(t, os.WriteFile(target+".part", []byte("%PDF-half"), 0o644))
	b := &docBrowser{script: []func() (*browser.Response, error){pdfResponse}}

	res, err := newExecutor().Download(context.Background(), b, testLink("EFTA00000001"), target)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, res.Outcome)
	assert.Equal(t, 1, b.Calls())
	assert.NoFileExists(t, target+".part")
}

func TestDownloadRejectsHTML(t *testing.T) {
	cases := map[string]func() (*browser.Response, error){
		"html content type": func() (*browser.Response, error) {
			return &browser.Response{Status: 200, ContentType: "text/html; charset=utf-8", Body: []byte("<html>Are you 18?</html>")}, nil
		},
		"gate redirect": func() (*browser.Response, error) {
			return &browser.Response{URL: "https://site.example/age-verify", Status: 200, ContentType: "application/octet-stream", Body: []byte("x")}, nil
		},
	}
	for name, step := range cases {
		t.Run(name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "EFTA00000002.pdf")
			b := &docBrowser{script: []func() (*browser.Response, error){step}}

			_, err := newExecutor().Download(context.Background(), b, testLink("EFTA00000002"), target)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrorTypeUnexpectedContentType))
			assert.Equal(t, 1, b.Calls(), "content errors are not retried")
			assert.NoFileExists(t, target)
			assert.NoFileExists(t, target+".part")
		})
	}
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	target := filepath.Join(t.TempDir(), "EFTA00000003.pdf")
	b := &docBrowser{script: []func() (*browser.Response, error){
		func() (*browser.Response, error) { return nil, errs.New(errs.ErrorTypeTransient, "connection reset") },
		func() (*browser.Response, error) { return &browser.Response{Status: 503}, nil },
		func() (*browser.Response, error) {
			return &browser.Response{Status: 200, ContentType: "application/pdf"}, nil
		},
		pdfResponse,
	}}

	res, err := newExecutor().Download(context.Background(), b, testLink("EFTA00000003"), target)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempts)
	assert.FileExists(t, target)
}

func TestDownloadGivesUpAfterMaxAttempts(t *testing.T) {
	target := filepath.Join(t.TempDir(), "EFTA00000004.pdf")
	b := &docBrowser{script: []func() (*browser.Response, error){
		func() (*browser.Response, error) { return &browser.Response{Status: 502}, nil },
	}}

	res, err := newExecutor().Download(context.Background(), b, testLink("EFTA00000004"), target)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeTransient))
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, b.Calls())

	var ce *errs.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, ce.Attempts)
	assert.NoFileExists(t, target)
}

func TestDownloadDoesNotRetryFinalStatuses(t *testing.T) {
	cases := map[int]errs.ErrorType{
		401: errs.ErrorTypeUnauthorized,
		403: errs.ErrorTypeUnauthorized,
		404: errs.ErrorTypeHTTPStatus,
		410: errs.ErrorTypeHTTPStatus,
	}
	for status, want := range cases {
		target := filepath.Join(t.TempDir(), "x.pdf")
		b := &docBrowser{script: []func() (*browser.Response, error){
			func() (*browser.Response, error) { return &browser.Response{Status: status}, nil },
		}}
		_, err := newExecutor().Download(context.Background(), b, testLink("x"), target)
		assert.Truef(t, errs.Is(err, want), "status %d: %v", status, err)
		assert.Equalf(t, 1, b.Calls(), "status %d", status)
	}
}

func TestDownloadAttemptTimeoutIsTransient(t *testing.T) {
	target := filepath.Join(t.TempDir(), "slow.pdf")
	b := &docBrowser{
		delay:  time.Second,
		script: []func() (*browser.Response, error){pdfResponse},
	}
	e := newExecutor()
	e.timeout = 10 * time.Millisecond
	e.retry.MaxAttempts = 2

	res, err := e.Download(context.Background(), b, testLink("slow"), target)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeTransient))
	assert.Equal(t, 2, res.Attempts)
}

func TestDownloadCancelledLeavesNoFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "cancel.pdf")
	b := &docBrowser{
		delay:     time.Second,
		navigated: make(chan struct{}, 1),
		script:    []func() (*browser.Response, error){pdfResponse},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-b.navigated
		cancel()
	}()

	_, err := newExecutor().Download(ctx, b, testLink("cancel"), target)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, target)
	assert.NoFileExists(t, target+".part")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "downloaded", Downloaded.String())
	assert.Equal(t, "skipped", Skipped.String())
}
