// Package paginate walks a dataset's listing pages and collects the
// document links they carry.
package paginate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"docharvest/pkg/browser"
	"docharvest/pkg/linkset"
)

// CompilePattern compiles a document pattern and checks that it names the
// "dataset" and "id" groups.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid document pattern: %w", err)
	}
	if re.SubexpIndex("dataset") < 0 || re.SubexpIndex("id") < 0 {
		return nil, fmt.Errorf("document pattern %q must define the groups dataset and id", expr)
	}
	return re, nil
}

// PageURL returns the listing URL of page n. Page 0 is the bare URL.
func PageURL(base string, n int) string {
	if n == 0 {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("%s?page=%d", base, n)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// ExtractLinks returns the links on a listing page that match pattern and
// belong to dataset. Each link carries pageURL as its referer.
func ExtractLinks(resp *browser.Response, pattern *regexp.Regexp, dataset, page int, pageURL string) ([]linkset.Link, error) {
	hrefs, err := browser.Links(resp)
	if err != nil {
		return nil, err
	}

	dsGroup, idGroup := pattern.SubexpIndex("dataset"), pattern.SubexpIndex("id")
	var out []linkset.Link
	for _, href := range hrefs {
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		m := pattern.FindStringSubmatch(u.EscapedPath())
		if m == nil {
			m = pattern.FindStringSubmatch(u.Path)
		}
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[dsGroup])
		if err != nil || n != dataset {
			continue
		}
		u.Fragment = ""
		out = append(out, linkset.Link{
			ID:      m[idGroup],
			URL:     u.String(),
			Referer: pageURL,
			Dataset: dataset,
			Page:    page,
		})
	}
	return out, nil
}
