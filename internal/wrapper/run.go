package wrapper

// One command run is one iteration. It never outlives the iteration.
// The exit status is the only thing we interpret.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/psantana5/loopd/internal/observe"
	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/logging"
)

// Command describes the external program run on every iteration
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// Timeout bounds a single run; 0 means no limit
	Timeout time.Duration

	// StopExitCode, when set, is the exit status meaning "stop the loop".
	// The daemon then exits with that same status.
	StopExitCode *int

	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of one run
type Result struct {
	PID      int
	ExitCode int
	Duration time.Duration
}

// Run starts the command and waits for it. The child gets its own process
// group so a terminal interrupt reaches the daemon only; the daemon finishes
// the current iteration before shutting down.
func Run(ctx context.Context, c Command) (*Result, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("command path is required")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	timing := observe.NewTiming()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Path, err)
	}

	err := cmd.Wait()
	timing.Complete()

	result := &Result{
		PID:      cmd.Process.Pid,
		Duration: timing.Duration(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("failed to wait for %s: %w", c.Path, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Work adapts the command into a daemon unit of work. A zero exit status is
// success, StopExitCode raises a stop signal and any other status is a fault
// carrying that status. A command killed by a signal or timeout, or one that
// cannot be started, is a fault without status.
func (c Command) Work() daemon.WorkFunc {
	return func(ctx context.Context, ctrl *daemon.Controller) error {
		result, err := Run(ctx, c)
		if err != nil {
			return err
		}

		ctrl.Logger().Debug("command finished", logging.Fields{
			"pid":         result.PID,
			"exit_code":   result.ExitCode,
			"duration_ms": result.Duration.Milliseconds(),
		})

		switch {
		case result.ExitCode == 0:
			return nil
		case c.StopExitCode != nil && result.ExitCode == *c.StopExitCode:
			return daemon.Stop(result.ExitCode, fmt.Sprintf("%s requested stop", c.Path))
		case result.ExitCode < 0:
			return fmt.Errorf("%s terminated abnormally after %s", c.Path, result.Duration)
		default:
			return daemon.NewFault(result.ExitCode, fmt.Errorf("%s exited with status %d", c.Path, result.ExitCode))
		}
	}
}
