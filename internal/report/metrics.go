package report

import (
	"sync"

	"github.com/psantana5/loopd/pkg/daemon"
)

// Tally counts events by name and assembles the Summary when the daemon stops
type Tally struct {
	mu      sync.Mutex
	summary Summary
	done    bool
	onDone  func(*Summary)
}

// NewTally creates a tally; onDone, when non-nil, receives the finished summary
func NewTally(onDone func(*Summary)) *Tally {
	return &Tally{
		summary: Summary{EventCounts: make(map[string]uint64)},
		onDone:  onDone,
	}
}

// Notify implements daemon.Subscriber
func (t *Tally) Notify(e daemon.Event) {
	t.mu.Lock()
	s := &t.summary
	s.EventCounts[e.Name]++
	if e.Memory > s.PeakMemory {
		s.PeakMemory = e.Memory
	}
	s.Iterations = e.Iteration

	var finished *Summary
	switch e.Kind {
	case daemon.EventStart:
		s.RunID = e.RunID
		s.StartTime = e.Time
		if ctrl := e.Controller(); ctrl != nil {
			s.Daemon = ctrl.String()
		}
	case daemon.EventStop:
		s.EndTime = e.Time
		s.Duration = s.EndTime.Sub(s.StartTime)
		if ctrl := e.Controller(); ctrl != nil {
			s.ExitCode = ctrl.ExitCode()
			if err := ctrl.LastError(); err != nil {
				s.LastError = err.Error()
			}
		}
		t.done = true
		finished = t.snapshotLocked()
	}
	t.mu.Unlock()

	if finished != nil && t.onDone != nil {
		t.onDone(finished)
	}
}

// Summary returns a copy of the current summary and whether the run is over
func (t *Tally) Summary() (*Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(), t.done
}

func (t *Tally) snapshotLocked() *Summary {
	cp := t.summary
	cp.EventCounts = make(map[string]uint64, len(t.summary.EventCounts))
	for k, v := range t.summary.EventCounts {
		cp.EventCounts[k] = v
	}
	return &cp
}
