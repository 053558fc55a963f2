// Package ratelimit provides the per-sender gate applied to inbound events.
package ratelimit

import "time"

// DefaultWindow is the standard per-sender acceptance window.
const DefaultWindow = 1500 * time.Millisecond

// Limiter drops events from a sender that arrive too soon after the sender's
// previous accepted event. It is confined to the dispatch loop and needs no
// locking.
type Limiter struct {
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// New creates a Limiter with the given acceptance window.
func New(window time.Duration) *Limiter {
	return &Limiter{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether an event from sender should be processed. An accepted
// event updates the sender's timestamp; a rejected one does not.
func (l *Limiter) Allow(sender string) bool {
	now := l.now()
	if last, ok := l.last[sender]; ok && now.Sub(last) < l.window {
		return false
	}
	l.last[sender] = now
	return true
}
