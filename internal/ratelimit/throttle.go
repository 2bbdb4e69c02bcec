// Package ratelimit throttles repetitive log lines.
package ratelimit

import (
	"sync"
	"time"
)

// Throttle lets one event through per interval and counts the events it held
// back in between. A nil Throttle lets everything through.
type Throttle struct {
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	last       time.Time
	suppressed uint64
	total      uint64
}

// New returns a Throttle allowing one event per interval. A zero or negative
// interval disables throttling.
func New(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now}
}

// Allow records one event. When ok is true the caller should log, and
// suppressed is the number of events dropped since the previous allowed one.
func (t *Throttle) Allow() (suppressed uint64, ok bool) {
	if t == nil {
		return 0, true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	now := t.now()
	if t.interval > 0 && !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.suppressed++
		return 0, false
	}
	t.last = now
	suppressed = t.suppressed
	t.suppressed = 0
	return suppressed, true
}

// Total returns every event recorded, allowed or not.
func (t *Throttle) Total() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
