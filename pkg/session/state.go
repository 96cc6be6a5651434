// Package session persists the browser session (cookies, local storage and
// the gate clearance flag) between runs.
package session

import (
	"slices"
	"time"
)

// Cookie is one browser cookie. Expires is seconds since the epoch, -1
// for session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// StorageItem is one localStorage entry.
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Origin holds the localStorage of one origin.
type Origin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// State is the serialized browser context.
type State struct {
	Cookies     []Cookie  `json:"cookies"`
	Origins     []Origin  `json:"origins"`
	GateCleared bool      `json:"gateCleared"`
	ClearedAt   time.Time `json:"clearedAt,omitempty"`
	SavedAt     time.Time `json:"savedAt,omitempty"`
}

// Clone returns a deep copy, so workers can restore the same snapshot
// without sharing slices.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Cookies = slices.Clone(s.Cookies)
	out.Origins = make([]Origin, len(s.Origins))
	for i, o := range s.Origins {
		out.Origins[i] = Origin{Origin: o.Origin, LocalStorage: slices.Clone(o.LocalStorage)}
	}
	return &out
}

// Expired reports whether the cookie had an absolute expiry before now.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now)
}

// LiveCookies drops cookies that expired before now.
func (s *State) LiveCookies(now time.Time) []Cookie {
	out := make([]Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if !c.Expired(now) {
			out = append(out, c)
		}
	}
	return out
}

// MarkCleared records a successful gate clearance.
func (s *State) MarkCleared(at time.Time) {
	s.GateCleared = true
	s.ClearedAt = at
}
