// Package ratelimit bounds how many mutating requests a subject may issue
// inside a trailing time window.
package ratelimit

import (
	"sync"
	"time"
)

type entry struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// Limiter counts requests per subject over a fixed trailing window. Entries
// are retained for the lifetime of the process; retention is intentionally
// unbounded to match the deployed behavior.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	entries sync.Map // subject id -> *entry
}

func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow records one request for the subject and reports whether it fits in
// the current window. A full window denies without incrementing; an elapsed
// window resets the counter to 1. Same-subject calls serialize on the entry
// lock so concurrent requests never lose an increment.
func (l *Limiter) Allow(subject string) bool {
	v, _ := l.entries.LoadOrStore(subject, &entry{})
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= l.window {
		e.windowStart = now
		e.count = 1
		return true
	}
	if e.count < l.max {
		e.count++
		return true
	}
	return false
}

// RetryAfter is the wait hint reported alongside a denial.
func (l *Limiter) RetryAfter() time.Duration {
	return l.window
}
