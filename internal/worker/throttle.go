package worker

import "time"

// Throttle admits at most one event per interval. The first event is always
// admitted.
type Throttle struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
	started  bool
}

func NewThrottle(interval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{interval: interval, now: now}
}

func (t *Throttle) Allow() bool {
	now := t.now()
	if t.started && now.Sub(t.last) < t.interval {
		return false
	}
	t.started = true
	t.last = now
	return true
}
