// Package scheduler provides a single-goroutine cooperative task loop.
//
// Tasks are queued with ScheduleImmediate or ScheduleAfter and executed one at a
// time by Run. Run returns once no task and no timer is left, which lets a
// caller express "keep going" simply by re-enqueueing from inside a task.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopAlreadyRunning is returned when Run is called on a loop that is running.
var ErrLoopAlreadyRunning = errors.New("scheduler: loop is already running")

// Task is a unit of deferred work executed on the loop goroutine
type Task func()

// timer is a task due at a point in time. seq keeps FIFO order among equal deadlines.
type timer struct {
	when time.Time
	seq  uint64
	task Task
}

type timerHeap []timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Loop is a cooperative scheduler. Scheduling is safe from any goroutine;
// tasks always run on the goroutine that called Run.
type Loop struct {
	mu      sync.Mutex
	queue   []Task
	timers  timerHeap
	seq     uint64
	running bool
	wake    chan struct{}

	now      func() time.Time
	newTimer func(d time.Duration) (<-chan time.Time, func() bool)

	ticks uint64
}

// New creates an idle loop
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		now:  time.Now,
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
}

// ScheduleImmediate enqueues task to run on the next loop turn, after any
// task already queued.
func (l *Loop) ScheduleImmediate(task Task) {
	if task == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	l.signal()
}

// ScheduleAfter runs task once d has elapsed. The loop stays responsive to
// other tasks while the timer is pending. d <= 0 behaves like ScheduleImmediate
// but is still ordered after tasks that are already queued.
func (l *Loop) ScheduleAfter(d time.Duration, task Task) {
	if task == nil {
		return
	}
	if d <= 0 {
		l.ScheduleImmediate(task)
		return
	}
	l.mu.Lock()
	l.seq++
	heap.Push(&l.timers, timer{when: l.now().Add(d), seq: l.seq, task: task})
	l.mu.Unlock()
	l.signal()
}

// Pending returns the number of queued tasks plus pending timers
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + len(l.timers)
}

// Ticks returns how many tasks the loop has executed
func (l *Loop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Run executes tasks until the loop is idle or ctx is done. Queued tasks and
// pending timers are dropped when ctx ends; a task that is already executing
// always completes first.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.queue = nil
		l.timers = nil
		l.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, wait, idle := l.next()
		if idle {
			return nil
		}
		if task != nil {
			task()
			continue
		}

		timerC, stop := l.newTimer(wait)
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case <-l.wake:
			stop()
		case <-timerC:
		}
	}
}

// next pops the next runnable task. When nothing is runnable yet it returns
// the wait until the earliest timer; idle is true when nothing is left at all.
func (l *Loop) next() (task Task, wait time.Duration, idle bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		task = l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.ticks++
		return task, 0, false
	}

	if len(l.timers) == 0 {
		return nil, 0, true
	}

	earliest := l.timers[0]
	if wait = earliest.when.Sub(l.now()); wait > 0 {
		return nil, wait, false
	}
	heap.Pop(&l.timers)
	l.ticks++
	return earliest.task, 0, false
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
