package browser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links returns the absolute targets of every anchor in an HTML response,
// in document order. Duplicates are kept.
func Links(resp *Response) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", resp.URL, err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		out = append(out, u.String())
	})
	return out, nil
}

// ContainsText reports whether the visible text of an HTML response
// contains needle, case-insensitively.
func ContainsText(resp *Response, needle string) bool {
	if needle == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return bytes.Contains(bytes.ToLower(resp.Body), []byte(strings.ToLower(needle)))
	}
	return strings.Contains(strings.ToLower(doc.Text()), strings.ToLower(needle))
}

func matchesLabel(text string, labels []string) bool {
	text = strings.Join(strings.Fields(text), " ")
	for _, l := range labels {
		if strings.EqualFold(text, l) {
			return true
		}
	}
	return false
}
