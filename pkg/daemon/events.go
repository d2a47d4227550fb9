package daemon

import (
	"time"
)

// EventKind identifies a lifecycle event
type EventKind int

const (
	EventStart EventKind = iota
	EventLoopBegin
	EventLoopIteration
	EventLoopEnd
	EventStop
	EventExceptionGeneral
	EventExceptionStop
	EventMaxMemoryReached
	// EventPeriodic is a user-defined event from Config.IterationEvents; Event.Name holds its tag
	EventPeriodic
)

var eventNames = map[EventKind]string{
	EventStart:            "daemon.start",
	EventLoopBegin:        "daemon.loop.begin",
	EventLoopIteration:    "daemon.loop.iteration",
	EventLoopEnd:          "daemon.loop.end",
	EventStop:             "daemon.stop",
	EventExceptionGeneral: "daemon.loop.exception.general",
	EventExceptionStop:    "daemon.loop.exception.stop",
	EventMaxMemoryReached: "daemon.loop.max_memory_reached",
	EventPeriodic:         "daemon.periodic",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "daemon.unknown"
}

// EventKinds lists every built-in kind in lifecycle order
func EventKinds() []EventKind {
	return []EventKind{
		EventStart,
		EventLoopBegin,
		EventLoopIteration,
		EventLoopEnd,
		EventStop,
		EventExceptionGeneral,
		EventExceptionStop,
		EventMaxMemoryReached,
		EventPeriodic,
	}
}

// Event is a snapshot taken when the controller dispatches a notification
type Event struct {
	Kind EventKind
	// Name is the kind's name, or the configured tag for periodic events
	Name      string
	RunID     string
	Iteration int
	// ExecutionTime is the time elapsed since the current iteration started,
	// zero before the first iteration
	ExecutionTime time.Duration
	// Memory is the current memory usage in bytes
	Memory uint64
	Time   time.Time
	Err    error

	controller *Controller
}

// Controller returns the controller that emitted the event
func (e Event) Controller() *Controller {
	return e.controller
}

// Timing returns ExecutionTime in milliseconds
func (e Event) Timing() float64 {
	return float64(e.ExecutionTime) / float64(time.Millisecond)
}

// LastErrorKind returns the type name of the controller's most recent error
func (e Event) LastErrorKind() string {
	if e.controller == nil {
		return ""
	}
	return e.controller.LastErrorKind()
}

// Subscriber receives lifecycle events. Notify runs on the loop goroutine and
// must not block for long.
type Subscriber interface {
	Notify(Event)
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(Event)

func (f SubscriberFunc) Notify(e Event) {
	f(e)
}

// Fanout forwards each event to every non-nil subscriber in order
func Fanout(subs ...Subscriber) Subscriber {
	filtered := make(fanout, 0, len(subs))
	for _, s := range subs {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

type fanout []Subscriber

func (f fanout) Notify(e Event) {
	for _, s := range f {
		s.Notify(e)
	}
}
