// Package daemon turns a unit-of-work function into a supervised loop.
//
// A Controller runs the work repeatedly on a cooperative scheduler until one of
// the termination conditions holds: the iteration limit is reached, the memory
// budget is exceeded, shutdown was requested (signal, stop signal or fault
// policy). Shutdown is always graceful: the running iteration completes, then
// the tear-down hook runs and the accumulated exit code is returned.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/psantana5/loopd/pkg/logging"
	"github.com/psantana5/loopd/pkg/resources"
	"github.com/psantana5/loopd/pkg/scheduler"
)

// WorkFunc is the unit of work run once per iteration. Setup, tear-down and
// periodic callbacks share the same signature.
type WorkFunc func(ctx context.Context, c *Controller) error

// Scheduler drives deferred tasks on a single goroutine
type Scheduler interface {
	ScheduleImmediate(task scheduler.Task)
	ScheduleAfter(d time.Duration, task scheduler.Task)
	Run(ctx context.Context) error
}

// MemoryProbe reports memory usage in bytes
type MemoryProbe interface {
	Current() uint64
	Peak() uint64
}

// Pacer returns the minimum pause before the next iteration
type Pacer interface {
	Delay() time.Duration
}

// Options wires a controller to its collaborators. Only the unit of work is
// mandatory; every other field has a working default.
type Options struct {
	Name   string
	Config Config

	Setup    WorkFunc
	TearDown WorkFunc

	// Subscriber receives lifecycle events; nil disables notifications
	Subscriber Subscriber
	Scheduler  Scheduler
	Memory     MemoryProbe
	Pacer      Pacer

	// Output receives rendered faults when ShowExceptions is set (stderr by default)
	Output io.Writer
	Logger *logging.Logger
	RunID  string
	Clock  func() time.Time
}

// State is the controller lifecycle phase
type State int32

const (
	StateCreated State = iota
	StateConfiguring
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type intervalCallback struct {
	interval int
	fn       WorkFunc
}

// Controller drives the daemon loop.
//
// Loop state (counters, exit code, last error, sleep request) belongs to the
// loop goroutine: read and change it from the work function, hooks, periodic
// callbacks or subscribers only. RequestShutdown, HandleSignal,
// IsShutdownRequested and State are safe from any goroutine.
type Controller struct {
	name       string
	work       WorkFunc
	cfg        Config
	setup      WorkFunc
	tearDown   WorkFunc
	subscriber Subscriber
	sched      Scheduler
	memory     MemoryProbe
	pacer      Pacer
	output     io.Writer
	logger     *logging.Logger
	runID      string
	now        func() time.Time

	state    atomic.Int32
	shutdown atomic.Bool
	signal   atomic.Value // name of the first stop signal received

	mu     sync.Mutex
	cancel context.CancelFunc

	ctx                 context.Context
	loopCount           int
	maxIterations       int
	memoryMax           uint64
	shutdownOnException bool
	showExceptions      bool
	exitCode            int
	lastErr             error
	nextSleep           time.Duration
	iterationStart      time.Time
	memoryReported      bool
	callbacks           []intervalCallback
}

// New creates a controller for work
func New(work WorkFunc, opts Options) (*Controller, error) {
	if work == nil {
		return nil, ErrInvalidWork
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		name:       opts.Name,
		work:       work,
		cfg:        opts.Config,
		setup:      opts.Setup,
		tearDown:   opts.TearDown,
		subscriber: opts.Subscriber,
		sched:      opts.Scheduler,
		memory:     opts.Memory,
		pacer:      opts.Pacer,
		output:     opts.Output,
		runID:      opts.RunID,
		now:        opts.Clock,
	}
	if c.name == "" {
		c.name = "daemon"
	}
	if c.sched == nil {
		c.sched = scheduler.New()
	}
	if c.memory == nil {
		c.memory = resources.NewProbe()
	}
	if c.output == nil {
		c.output = os.Stderr
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.logger = opts.Logger.WithField("daemon", c.String()).WithField("run_id", c.runID)
	c.applyConfig()
	return c, nil
}

func (c *Controller) applyConfig() {
	c.maxIterations = c.cfg.EffectiveMaxIterations()
	c.memoryMax = c.cfg.MemoryMax
	c.shutdownOnException = c.cfg.ShutdownOnException
	c.showExceptions = c.cfg.ShowExceptions
}

// SetWork replaces the unit of work. It must be called before Run.
func (c *Controller) SetWork(work WorkFunc) error {
	if work == nil {
		return ErrInvalidWork
	}
	c.work = work
	return nil
}

// AddIntervalCallback registers fn to run after every interval-th successful
// iteration. Callbacks are evaluated in registration order and may only be
// added before the loop starts running, typically from the setup hook.
func (c *Controller) AddIntervalCallback(interval int, fn WorkFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidInterval, interval)
	}
	if fn == nil {
		return fmt.Errorf("%w: interval callback must not be nil", ErrInvalidArgument)
	}
	if s := c.State(); s >= StateRunning {
		return fmt.Errorf("%w: cannot register interval callback while %s", ErrInvalidArgument, s)
	}
	c.callbacks = append(c.callbacks, intervalCallback{interval: interval, fn: fn})
	return nil
}

// Run executes the daemon and returns its exit code. An error is returned
// only when the loop could not be started (invalid configuration, failed
// setup, second call) or when the scheduler itself failed; faults raised by
// the work are reported through the exit code and events instead.
func (c *Controller) Run(ctx context.Context) (int, error) {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateConfiguring)) {
		return FaultExitCode, ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.IsShutdownRequested() {
		cancel()
	}
	c.ctx = ctx

	c.dispatch(EventStart, "", nil)

	if c.setup != nil {
		if err := c.call(ctx, c.setup); err != nil {
			c.setState(StateStopped)
			c.logger.Error("daemon setup failed", logging.Fields{"error": err.Error()})
			return exitCodeOf(err), fmt.Errorf("daemon %s: setup: %w", c, err)
		}
	}

	c.setState(StateRunning)
	c.dispatch(EventLoopBegin, "", nil)

	c.sched.ScheduleImmediate(c.tick)
	runErr := c.sched.Run(loopCtx)
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		runErr = nil
	}
	if ctx.Err() != nil {
		c.RequestShutdown()
	}
	if sig, ok := c.signal.Load().(string); ok {
		c.logger.Info("shutdown signal received", logging.Fields{
			"signal":     sig,
			"iterations": c.loopCount,
		})
	}

	c.setState(StateDraining)
	c.dispatch(EventLoopEnd, "", nil)

	if c.tearDown != nil {
		if err := c.call(context.WithoutCancel(ctx), c.tearDown); err != nil {
			c.lastErr = err
			if c.exitCode == 0 {
				c.exitCode = exitCodeOf(err)
			}
			c.logger.Error("daemon tear-down failed", logging.Fields{"error": err.Error()})
		}
	}

	c.dispatch(EventStop, "", nil)
	c.setState(StateStopped)

	if runErr != nil {
		return c.exitCode, fmt.Errorf("daemon %s: scheduler: %w", c, runErr)
	}
	return c.exitCode, nil
}

// tick runs one iteration and schedules the next one unless the loop is done
func (c *Controller) tick() {
	if c.IsShutdownRequested() {
		return
	}

	c.iterationStart = c.now()
	stopSeen := false

	if err := c.call(c.ctx, c.work); err != nil {
		c.handleError(err, &stopSeen)
	} else {
		for _, cb := range c.callbacks {
			if (c.loopCount+1)%cb.interval != 0 {
				continue
			}
			if err := c.call(c.ctx, cb.fn); err != nil {
				c.handleError(err, &stopSeen)
			}
		}
	}

	c.loopCount++
	c.dispatch(EventLoopIteration, "", nil)
	c.dispatchIterationEvents()

	if c.isLastLoop() {
		return
	}
	c.scheduleNext()
}

// call runs fn, turning a panic into a fault
func (c *Controller) call(ctx context.Context, fn WorkFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, c)
}

// handleError applies the exception policy. Within one iteration the first
// stop signal decides the exit code; later faults are still reported.
func (c *Controller) handleError(err error, stopSeen *bool) {
	if stop, ok := asStop(err); ok {
		if !*stopSeen {
			*stopSeen = true
			c.lastErr = err
			c.exitCode = stop.Code
		}
		c.dispatch(EventExceptionStop, "", err)
		c.RequestShutdown()
		return
	}

	if !*stopSeen {
		c.lastErr = err
	}
	c.dispatch(EventExceptionGeneral, "", err)

	if c.showExceptions {
		c.renderError(err)
	}

	if c.shutdownOnException {
		if !*stopSeen {
			c.exitCode = exitCodeOf(err)
		}
		c.RequestShutdown()
	}
}

func (c *Controller) renderError(err error) {
	fmt.Fprintf(c.output, "\n  [%s]\n  %s\n\n", errorKind(err), err.Error())
}

func (c *Controller) dispatchIterationEvents() {
	for _, ev := range c.cfg.IterationEvents {
		if ev.Count > 0 && c.loopCount%ev.Count == 0 {
			c.dispatch(EventPeriodic, ev.Name, nil)
		}
	}
}

// isLastLoop evaluates the termination conditions. Every condition that holds
// requests shutdown, which is never undone.
func (c *Controller) isLastLoop() bool {
	if c.maxIterations > 0 && c.loopCount >= c.maxIterations {
		c.RequestShutdown()
	}

	if c.memoryMax > 0 {
		if c.memory.Peak() >= c.memoryMax {
			if !c.memoryReported {
				c.memoryReported = true
				c.dispatch(EventMaxMemoryReached, "", nil)
			}
			c.RequestShutdown()
		}
	}

	return c.IsShutdownRequested()
}

func (c *Controller) scheduleNext() {
	delay := c.nextSleep
	c.nextSleep = 0
	if delay == 0 {
		delay = c.cfg.Sleep
	}
	if c.pacer != nil {
		if d := c.pacer.Delay(); d > delay {
			delay = d
		}
	}

	if delay > 0 {
		c.sched.ScheduleAfter(delay, c.tick)
		return
	}
	c.sched.ScheduleImmediate(c.tick)
}

func (c *Controller) dispatch(kind EventKind, name string, err error) {
	if c.subscriber == nil {
		return
	}
	if name == "" {
		name = kind.String()
	}

	now := c.now()
	var elapsed time.Duration
	if !c.iterationStart.IsZero() {
		elapsed = now.Sub(c.iterationStart)
	}

	c.subscriber.Notify(Event{
		Kind:          kind,
		Name:          name,
		RunID:         c.runID,
		Iteration:     c.loopCount,
		ExecutionTime: elapsed,
		Memory:        c.memory.Current(),
		Time:          now,
		Err:           err,
		controller:    c,
	})
}

// RequestShutdown asks the loop to stop at the next iteration boundary.
// A pending inter-iteration pause is cut short.
func (c *Controller) RequestShutdown() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsShutdownRequested reports whether shutdown was requested. Once true it stays true.
func (c *Controller) IsShutdownRequested() bool {
	return c.shutdown.Load()
}

// HandleSignal requests shutdown on SIGINT or SIGTERM and ignores any other
// signal. It only records the signal; it is logged once the loop has drained.
func (c *Controller) HandleSignal(sig os.Signal) {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		c.RequestShutdown()
		c.signal.CompareAndSwap(nil, sig.String())
	}
}

// State returns the current lifecycle phase
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// String returns the daemon name with ':' replaced by '-'
func (c *Controller) String() string {
	return strings.ReplaceAll(c.name, ":", "-")
}

// Name returns the configured daemon name
func (c *Controller) Name() string { return c.name }

// RunID identifies this run on every event
func (c *Controller) RunID() string { return c.runID }

// Config returns the configuration the controller was created with
func (c *Controller) Config() Config { return c.cfg }

// Logger returns the controller's logger, which may be nil
func (c *Controller) Logger() *logging.Logger { return c.logger }

func (c *Controller) LoopCount() int { return c.loopCount }

func (c *Controller) SetLoopCount(n int) { c.loopCount = n }

// IncrLoopCount increments the iteration count and returns its previous value
func (c *Controller) IncrLoopCount() int {
	n := c.loopCount
	c.loopCount++
	return n
}

// MaxIterations returns the iteration limit, 0 when unbounded
func (c *Controller) MaxIterations() int { return c.maxIterations }

// SetMaxIterations overrides the configured limit. It takes effect whether
// called before Run, from the setup hook or from the work.
func (c *Controller) SetMaxIterations(n int) { c.maxIterations = n }

func (c *Controller) MemoryMax() uint64 { return c.memoryMax }

func (c *Controller) SetMemoryMax(bytes uint64) { c.memoryMax = bytes }

func (c *Controller) ShutdownOnException() bool { return c.shutdownOnException }

func (c *Controller) SetShutdownOnException(v bool) { c.shutdownOnException = v }

func (c *Controller) ShowExceptions() bool { return c.showExceptions }

func (c *Controller) SetShowExceptions(v bool) { c.showExceptions = v }

// ExitCode returns the code Run will return
func (c *Controller) ExitCode() int { return c.exitCode }

// SetExitCode lets the work choose the exit code without stopping the loop
func (c *Controller) SetExitCode(code int) { c.exitCode = code }

// LastError returns the most recent error raised by an iteration
func (c *Controller) LastError() error { return c.lastErr }

// LastErrorKind returns the Go type of the last error, "" when there is none
func (c *Controller) LastErrorKind() string {
	if c.lastErr == nil {
		return ""
	}
	return errorKind(c.lastErr)
}

// SetNextIterationSleep pauses before the next iteration only. Other tasks on
// the scheduler keep running during the pause.
func (c *Controller) SetNextIterationSleep(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.nextSleep = d
}

func errorKind(err error) string {
	return fmt.Sprintf("%T", err)
}
