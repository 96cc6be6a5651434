// Package gate clears the site's age-verification interstitial and keeps
// track of whether the current process has already done so.
package gate

import (
	"strings"

	"docharvest/pkg/browser"
	"docharvest/pkg/storage"
)

// Detector recognises gate pages.
type Detector struct {
	// URLMarker matches when the final URL contains it.
	URLMarker string
	// TextMarker matches when an HTML body contains it. Empty disables the check.
	TextMarker string
}

// Gated reports whether resp is the gate rather than the requested page.
func (d Detector) Gated(resp *browser.Response) bool {
	if resp == nil {
		return false
	}
	if d.URLMarker != "" && strings.Contains(strings.ToLower(resp.URL), strings.ToLower(d.URLMarker)) {
		return true
	}
	if d.TextMarker != "" && storage.IsHTML(resp.ContentType, resp.Body) {
		return browser.ContainsText(resp, d.TextMarker)
	}
	return false
}
