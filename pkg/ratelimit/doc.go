// Package ratelimit keeps docharvest polite towards the origin server.
//
// TokenBucket caps navigations per time period across the whole run.
// Jitter inserts a randomized pause between successive operations, the way
// a person clicking through pages would.
package ratelimit
