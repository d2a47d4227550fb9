package observe

import (
	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/logging"
)

// LogSubscriber writes lifecycle events to a logger. Iterations are logged at
// DEBUG, start/stop and loop boundaries at INFO, faults and the memory budget
// at WARN.
type LogSubscriber struct {
	logger *logging.Logger
}

// NewLogSubscriber creates a subscriber logging through logger
func NewLogSubscriber(logger *logging.Logger) *LogSubscriber {
	return &LogSubscriber{logger: logger}
}

// Notify implements daemon.Subscriber
func (s *LogSubscriber) Notify(e daemon.Event) {
	fields := logging.Fields{
		"event":     e.Name,
		"iteration": e.Iteration,
		"memory":    e.Memory,
	}

	switch e.Kind {
	case daemon.EventLoopIteration:
		if !s.logger.Enabled(logging.DEBUG) {
			return
		}
		fields["timing_ms"] = e.Timing()
		s.logger.Debug("iteration completed", fields)

	case daemon.EventPeriodic:
		s.logger.Debug("periodic event", fields)

	case daemon.EventExceptionGeneral:
		if e.Err != nil {
			fields["error"] = e.Err.Error()
		}
		fields["kind"] = e.LastErrorKind()
		s.logger.Warn("iteration fault", fields)

	case daemon.EventExceptionStop:
		if e.Err != nil {
			fields["reason"] = e.Err.Error()
		}
		s.logger.Info("stop signal raised", fields)

	case daemon.EventMaxMemoryReached:
		if ctrl := e.Controller(); ctrl != nil {
			fields["memory_max"] = ctrl.MemoryMax()
		}
		s.logger.Warn("memory budget reached, shutting down", fields)

	case daemon.EventStart:
		if ctrl := e.Controller(); ctrl != nil {
			fields["max_iterations"] = ctrl.MaxIterations()
			fields["memory_max"] = ctrl.MemoryMax()
		}
		s.logger.Info(e.Name, fields)

	case daemon.EventStop:
		if ctrl := e.Controller(); ctrl != nil {
			fields["exit_code"] = ctrl.ExitCode()
		}
		s.logger.Info(e.Name, fields)

	default:
		s.logger.Info(e.Name, fields)
	}
}
