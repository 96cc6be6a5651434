// Package linkset merges document links found across index pages into one
// ordered set per dataset, comparing by normalized URL.
package linkset

import (
	"net/url"
	"strings"
)

// Link is a document discovered on an index page.
type Link struct {
	ID      string
	URL     string
	Referer string
	Dataset int
	Page    int
}

// Set is an insertion-ordered set of links keyed by normalized URL.
// The zero value is empty and ready to use.
type Set struct {
	links []Link
	index map[string]int
}

// New returns an empty set.
func New() *Set {
	return &Set{}
}

// Len returns the number of links in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.links)
}

// Has reports whether a link with the same normalized URL is present.
func (s *Set) Has(rawURL string) bool {
	if s == nil || s.index == nil {
		return false
	}
	_, ok := s.index[Normalize(rawURL)]
	return ok
}

// Links returns the links in first-seen order.
func (s *Set) Links() []Link {
	if s == nil {
		return nil
	}
	out := make([]Link, len(s.links))
	copy(out, s.links)
	return out
}

// Merge returns a new set holding existing followed by the links not yet
// present, and the number of links added. existing is not modified and may
// be nil.
func Merge(existing *Set, links []Link) (*Set, int) {
	out := &Set{index: make(map[string]int, existing.Len()+len(links))}
	if existing != nil {
		out.links = make([]Link, len(existing.links), len(existing.links)+len(links))
		copy(out.links, existing.links)
		for k, v := range existing.index {
			out.index[k] = v
		}
	}

	added := 0
	for _, l := range links {
		key := Normalize(l.URL)
		if _, seen := out.index[key]; seen {
			continue
		}
		out.index[key] = len(out.links)
		out.links = append(out.links, l)
		added++
	}
	return out, added
}

// Normalize canonicalizes an absolute URL for comparison: scheme and host
// are lowercased, default ports dropped, an empty path becomes "/", query
// parameters are sorted and the fragment is removed. Unparseable input is
// returned trimmed, and a query that does not decode is left as is.
func Normalize(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	if strings.Contains(u.Hostname(), ":") {
		// IPv6 literal
		host = "[" + strings.ToLower(u.Hostname()) + "]"
		if port != "" {
			host += ":" + port
		}
	}
	u.Host = host

	if u.Path == "" && u.Host != "" {
		u.Path = "/"
		u.RawPath = ""
	}
	if u.RawQuery != "" {
		// A malformed query is kept verbatim so no pair is lost.
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			u.RawQuery = q.Encode()
		}
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
