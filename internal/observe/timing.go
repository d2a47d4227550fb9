package observe

// Observation never changes loop behavior.
// Subscribers here only read events and write logs.

import "time"

// Timing records start/end timestamps only
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
	now         func() time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return newTimingWithClock(time.Now)
}

func newTimingWithClock(now func() time.Time) *Timing {
	return &Timing{
		StartedAt: now(),
		now:       now,
	}
}

// Complete records completion time
func (t *Timing) Complete() {
	t.CompletedAt = t.now()
}

// Duration returns execution duration, measured up to now while still running
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return t.now().Sub(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
