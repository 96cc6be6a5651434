package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/session"
)

// ChromeOptions configures the Chrome engine.
type ChromeOptions struct {
	Headless bool
	// UseChromeChannel prefers an installed Google Chrome over whatever
	// chromedp finds first.
	UseChromeChannel bool
	ExecPath         string
	UserAgent        string
	Locale           string
	Timezone         string
	Timeout          time.Duration
	BlockResources   bool
}

const confirmTimeout = 10 * time.Second

// Chrome drives a real browser tab over the DevTools protocol. Main-frame
// documents are captured at the response stage of the Fetch domain, so
// binary documents are read without the browser ever saving them.
type Chrome struct {
	opts   ChromeOptions
	logger logger.Logger

	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	docs  chan *Response
	navMu sync.Mutex

	mu      sync.Mutex
	pending map[string][]session.StorageItem
	origins map[string][]session.StorageItem
}

// NewChrome launches Chrome and prepares a single tab.
func NewChrome(ctx context.Context, opts ChromeOptions, log logger.Logger) (*Chrome, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("lang", opts.Locale),
		chromedp.WindowSize(1366, 900),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	execPath := opts.ExecPath
	if execPath == "" && opts.UseChromeChannel {
		execPath = findChrome()
		if execPath == "" {
			log.Warn("installed Chrome not found, falling back to default browser lookup")
		}
	}
	if execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		opts:        opts,
		logger:      log,
		tab:         tab,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		docs:        make(chan *Response, 4),
		pending:     make(map[string][]session.StorageItem),
		origins:     make(map[string][]session.StorageItem),
	}

	chromedp.ListenTarget(tab, func(ev interface{}) {
		if e, ok := ev.(*fetch.EventRequestPaused); ok {
			go c.onPaused(e)
		}
	})

	patterns := []*fetch.RequestPattern{
		{URLPattern: "*", ResourceType: network.ResourceTypeDocument, RequestStage: fetch.RequestStageResponse},
	}
	if opts.BlockResources {
		for _, rt := range blockedTypes {
			patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", ResourceType: rt, RequestStage: fetch.RequestStageRequest})
		}
	}

	setup := []chromedp.Action{
		network.Enable(),
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorDeny),
		fetch.Enable().WithPatterns(patterns),
	}
	if opts.Locale != "" {
		setup = append(setup, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.Timezone != "" {
		setup = append(setup, emulation.SetTimezoneOverride(opts.Timezone))
	}

	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	// The first Run starts the browser and must use the tab context itself.
	if err := chromedp.Run(tab, setup...); err != nil {
		c.Close()
		return nil, errs.Wrap(errs.ErrorTypeConfig, "failed to start Chrome", err)
	}

	log.InfoWithFields("browser started", map[string]interface{}{
		"engine":   "chrome",
		"headless": opts.Headless,
		"exec":     execPath,
	})
	return c, nil
}

var blockedTypes = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

func findChrome() string {
	candidates := []string{"google-chrome-stable", "google-chrome"}
	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome")
	case "windows":
		candidates = append(candidates,
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`)
	}
	for _, name := range candidates {
		if strings.ContainsAny(name, `/\`) {
			if _, err := os.Stat(name); err == nil {
				return name
			}
			continue
		}
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func (c *Chrome) onPaused(ev *fetch.EventRequestPaused) {
	t := chromedp.FromContext(c.tab).Target
	if t == nil {
		return
	}
	ctx := cdp.WithExecutor(c.tab, t)

	if ev.ResourceType != network.ResourceTypeDocument {
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx); err != nil {
			c.logger.DebugWithFields("failed to block resource", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	status := int(ev.ResponseStatusCode)
	mainFrame := string(ev.FrameID) == string(t.TargetID)
	location := headerValue(ev.ResponseHeaders, "location")
	if mainFrame && ev.ResponseErrorReason == "" && !(status >= 300 && status < 400 && location != "") {
		body, err := fetch.GetResponseBody(ev.RequestID).Do(ctx)
		if err != nil {
			c.logger.DebugWithFields("failed to read response body", map[string]interface{}{
				"url":   ev.Request.URL,
				"error": err.Error(),
			})
		}
		c.deliver(&Response{
			URL:         ev.Request.URL + ev.Request.URLFragment,
			Status:      status,
			ContentType: headerValue(ev.ResponseHeaders, "content-type"),
			Body:        body,
		})
	}

	if err := fetch.ContinueRequest(ev.RequestID).Do(ctx); err != nil {
		c.logger.DebugWithFields("failed to continue request", map[string]interface{}{"error": err.Error()})
	}
}

func headerValue(headers []*fetch.HeaderEntry, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (c *Chrome) deliver(resp *Response) {
	select {
	case c.docs <- resp:
	default:
		c.logger.DebugWithFields("dropping unexpected document", map[string]interface{}{"url": resp.URL})
	}
}

func (c *Chrome) drain() {
	for {
		select {
		case <-c.docs:
		default:
			return
		}
	}
}

// run executes actions on the tab with the navigation timeout, aborting
// early when ctx is cancelled.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) (context.Context, context.CancelFunc, error) {
	tctx, cancel := context.WithTimeout(c.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tctx, actions...)
	return tctx, func() { stop(); cancel() }, err
}

// Navigate implements Browser.
func (c *Chrome) Navigate(ctx context.Context, rawURL, referer string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.navMu.Lock()
	defer c.navMu.Unlock()
	c.drain()

	var errorText string
	tctx, done, err := c.run(ctx, c.opts.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		nav := page.Navigate(rawURL)
		if referer != "" {
			nav = nav.WithReferrer(referer)
		}
		_, _, text, err := nav.Do(ctx)
		errorText = text
		return err
	}))
	defer done()
	if err != nil {
		return nil, navigationError(ctx, rawURL, err)
	}

	var resp *Response
	if errorText != "" {
		// Documents the browser would save instead of render abort the
		// navigation after their response was captured.
		select {
		case resp = <-c.docs:
		default:
			return nil, navigationError(ctx, rawURL, errors.New(errorText))
		}
	} else {
		select {
		case resp = <-c.docs:
		case <-tctx.Done():
			return nil, navigationError(ctx, rawURL, fmt.Errorf("no document received: %w", tctx.Err()))
		}
	}

	c.applyPendingStorage(ctx, resp.URL)
	return resp, nil
}

func (c *Chrome) applyPendingStorage(ctx context.Context, finalURL string) {
	origin := originOf(finalURL)
	c.mu.Lock()
	items, ok := c.pending[origin]
	delete(c.pending, origin)
	c.mu.Unlock()
	if !ok || len(items) == 0 {
		return
	}

	pairs := make([][2]string, len(items))
	for i, it := range items {
		pairs[i] = [2]string{it.Name, it.Value}
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return
	}
	script := fmt.Sprintf(`(function(items){for(const [k,v] of items){localStorage.setItem(k,v)}})(%s)`, raw)
	_, done, err := c.run(ctx, confirmTimeout, chromedp.Evaluate(script, nil))
	done()
	if err != nil {
		c.logger.DebugWithFields("failed to restore local storage", map[string]interface{}{
			"origin": origin,
			"error":  err.Error(),
		})
	}
}

func confirmXPath(labels []string) string {
	var parts []string
	for _, l := range labels {
		if strings.Contains(l, "'") {
			continue
		}
		parts = append(parts,
			fmt.Sprintf(`//button[normalize-space(.)='%s']`, l),
			fmt.Sprintf(`//a[normalize-space(.)='%s']`, l),
			fmt.Sprintf(`//input[(@type='submit' or @type='button') and @value='%s']`, l),
			fmt.Sprintf(`//*[@role='button' and normalize-space(.)='%s']`, l),
		)
	}
	return strings.Join(parts, " | ")
}

// Confirm clicks the first button, link or submit input carrying one of
// labels and waits briefly for the resulting navigation.
func (c *Chrome) Confirm(ctx context.Context, labels []string) (bool, error) {
	sel := confirmXPath(labels)
	if sel == "" {
		return false, nil
	}
	c.navMu.Lock()
	defer c.navMu.Unlock()

	var nodes []*cdp.Node
	_, done, err := c.run(ctx, confirmTimeout, chromedp.Nodes(sel, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	done()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	if len(nodes) == 0 {
		return false, nil
	}

	c.drain()
	_, done, err = c.run(ctx, confirmTimeout, chromedp.MouseClickNode(nodes[0]))
	done()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.DebugWithFields("confirmation click failed", map[string]interface{}{"error": err.Error()})
		return false, nil
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()
	select {
	case <-c.docs:
	case <-timer.C:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return true, nil
}

const localStorageJS = `(function(){const out={};try{for(let i=0;i<localStorage.length;i++){const k=localStorage.key(i);out[k]=localStorage.getItem(k)}}catch(e){}return out})()`

// State implements Browser.
func (c *Chrome) State(ctx context.Context) (*session.State, error) {
	var cookies []*network.Cookie
	_, done, err := c.run(ctx, c.opts.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = cdpstorage.GetCookies().Do(ctx)
		return err
	}))
	done()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	var origin string
	items := map[string]string{}
	_, done, err = c.run(ctx, confirmTimeout,
		chromedp.Evaluate(`location.origin`, &origin),
		chromedp.Evaluate(localStorageJS, &items),
	)
	done()

	c.mu.Lock()
	if err == nil && strings.HasPrefix(origin, "http") {
		list := make([]session.StorageItem, 0, len(items))
		for k, v := range items {
			list = append(list, session.StorageItem{Name: k, Value: v})
		}
		c.origins[origin] = list
	}
	st := &session.State{}
	for o, list := range c.origins {
		st.Origins = append(st.Origins, session.Origin{Origin: o, LocalStorage: list})
	}
	for o, list := range c.pending {
		if _, ok := c.origins[o]; !ok {
			st.Origins = append(st.Origins, session.Origin{Origin: o, LocalStorage: list})
		}
	}
	c.mu.Unlock()

	for _, ck := range cookies {
		expires := ck.Expires
		if ck.Session {
			expires = -1
		}
		st.Cookies = append(st.Cookies, session.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: string(ck.SameSite),
		})
	}
	return st, nil
}

// Restore sets unexpired cookies immediately. Local storage is written the
// first time a navigation lands on the matching origin.
func (c *Chrome) Restore(ctx context.Context, st *session.State) error {
	if st == nil {
		return nil
	}
	var params []*network.CookieParam
	for _, ck := range st.LiveCookies(time.Now()) {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
			SameSite: network.CookieSameSite(ck.SameSite),
		}
		if ck.Expires > 0 {
			t := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &t
		}
		params = append(params, p)
	}
	if len(params) > 0 {
		_, done, err := c.run(ctx, c.opts.Timeout, network.SetCookies(params))
		done()
		if err != nil {
			return fmt.Errorf("failed to restore cookies: %w", err)
		}
	}

	c.mu.Lock()
	for _, o := range st.Origins {
		c.pending[o.Origin] = append([]session.StorageItem(nil), o.LocalStorage...)
	}
	c.mu.Unlock()
	return nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.tab)
	c.tabCancel()
	c.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
