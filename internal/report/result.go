package report

// A run summary is written once, after the Stop event.
// Counters come from events only, never from the controller's internals.

import (
	"fmt"
	"time"

	"github.com/psantana5/loopd/pkg/logging"
)

// Summary is the end-of-run record
type Summary struct {
	RunID  string `json:"run_id"`
	Daemon string `json:"daemon"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	Iterations  int               `json:"iterations"`
	ExitCode    int               `json:"exit_code"`
	LastError   string            `json:"last_error,omitempty"`
	PeakMemory  uint64            `json:"peak_memory_bytes"`
	EventCounts map[string]uint64 `json:"event_counts"`
}

// Faults returns how many general faults were reported
func (s *Summary) Faults() uint64 {
	return s.EventCounts["daemon.loop.exception.general"]
}

// LogSummary emits a single line an operator can grep for
func (s *Summary) LogSummary(logger *logging.Logger) {
	logger.Info(fmt.Sprintf("RUN %s | daemon=%s | iterations=%d | faults=%d | runtime=%.1fs | exit=%d",
		s.RunID,
		s.Daemon,
		s.Iterations,
		s.Faults(),
		s.Duration.Seconds(),
		s.ExitCode,
	))
}
