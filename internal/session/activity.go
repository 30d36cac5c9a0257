package session

import (
	"sync"
	"time"
)

// ActivityTracker records when the recognizer last showed signs of life
// (a started or result event). Silent stalls are detected by comparing
// IdleDuration against the configured activity timeout.
type ActivityTracker struct {
	mu    sync.Mutex
	last  time.Time
	clock func() time.Time
}

func NewActivityTracker(clock func() time.Time) *ActivityTracker {
	if clock == nil {
		clock = time.Now
	}
	return &ActivityTracker{last: clock(), clock: clock}
}

// MarkActivity resets the idle clock to now.
func (t *ActivityTracker) MarkActivity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.clock()
}

// IdleDuration returns the time elapsed since the last observed activity.
func (t *ActivityTracker) IdleDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock().Sub(t.last)
}
