package daemon

import (
	"errors"
	"fmt"
)

// FaultExitCode is the exit code used when a fault carries no code of its own
const FaultExitCode = -1

var (
	// ErrInvalidArgument is the parent of every programmer error reported by the controller
	ErrInvalidArgument = errors.New("daemon: invalid argument")

	// ErrInvalidInterval is returned when a periodic callback is registered with interval <= 0
	ErrInvalidInterval = fmt.Errorf("%w: interval must be a positive iteration count", ErrInvalidArgument)

	// ErrInvalidWork is returned when the unit of work is nil
	ErrInvalidWork = fmt.Errorf("%w: unit of work must not be nil", ErrInvalidArgument)

	// ErrAlreadyRunning is returned when Run is called twice on the same controller
	ErrAlreadyRunning = errors.New("daemon: controller already started")
)

// ExitCoder is implemented by errors that carry a process exit status
type ExitCoder interface {
	ExitCode() int
}

// StopSignal asks the controller to finish the current iteration and shut down
// with Code as exit status. It is honored regardless of the exception policy.
type StopSignal struct {
	Code    int
	Message string
}

// Stop builds a stop signal
func Stop(code int, message string) *StopSignal {
	return &StopSignal{Code: code, Message: message}
}

func (s *StopSignal) Error() string {
	if s.Message == "" {
		return fmt.Sprintf("daemon stop requested (code %d)", s.Code)
	}
	return fmt.Sprintf("daemon stop requested (code %d): %s", s.Code, s.Message)
}

// ExitCode returns the status the process should exit with
func (s *StopSignal) ExitCode() int {
	return s.Code
}

// Fault is a general failure with an optional exit code.
// Any other error returned by the unit of work is treated as a fault without a code.
type Fault struct {
	Code    int
	HasCode bool
	Err     error
}

// NewFault wraps err with an explicit exit code
func NewFault(code int, err error) *Fault {
	return &Fault{Code: code, HasCode: true, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("daemon fault (code %d)", f.Code)
	}
	return f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// ExitCode returns the embedded code, or FaultExitCode when none was set
func (f *Fault) ExitCode() int {
	if !f.HasCode {
		return FaultExitCode
	}
	return f.Code
}

// PanicError is the fault recorded when the unit of work or a periodic callback panics
type PanicError struct {
	Value interface{}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// exitCodeOf extracts the exit status of a fault
func exitCodeOf(err error) int {
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return FaultExitCode
}

// asStop reports whether err is, or wraps, a stop signal
func asStop(err error) (*StopSignal, bool) {
	var stop *StopSignal
	if errors.As(err, &stop) {
		return stop, true
	}
	return nil, false
}
