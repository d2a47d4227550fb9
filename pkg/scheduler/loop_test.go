package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestRunReturnsWhenIdle verifies that an empty loop returns immediately
func TestRunReturnsWhenIdle(t *testing.T) {
	l := New()
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run on idle loop returned %v", err)
	}
}

// TestScheduleImmediateOrder verifies FIFO execution and re-enqueueing from a task
func TestScheduleImmediateOrder(t *testing.T) {
	l := New()
	var order []int

	l.ScheduleImmediate(func() {
		order = append(order, 1)
		l.ScheduleImmediate(func() { order = append(order, 3) })
	})
	l.ScheduleImmediate(func() { order = append(order, 2) })

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, order)
			break
		}
	}
	if l.Ticks() != 3 {
		t.Errorf("Expected 3 ticks, got %d", l.Ticks())
	}
}

// TestScheduleAfterRunsInDeadlineOrder verifies timers fire by deadline and
// that immediate tasks are not blocked behind a pending timer
func TestScheduleAfterRunsInDeadlineOrder(t *testing.T) {
	l := New()
	var order []string

	l.ScheduleAfter(30*time.Millisecond, func() { order = append(order, "late") })
	l.ScheduleAfter(10*time.Millisecond, func() { order = append(order, "early") })
	l.ScheduleImmediate(func() { order = append(order, "now") })

	start := time.Now()
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Run returned after %v, before the last timer was due", elapsed)
	}

	want := []string{"now", "early", "late"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, order)
		}
	}
}

// TestScheduleAfterNonPositiveDelay verifies d <= 0 queues the task immediately
func TestScheduleAfterNonPositiveDelay(t *testing.T) {
	l := New()
	ran := false
	l.ScheduleAfter(0, func() { ran = true })

	if l.Pending() != 1 {
		t.Fatalf("Expected 1 pending task, got %d", l.Pending())
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ran {
		t.Error("Expected task to run")
	}
}

// TestRunStopsOnContextCancel verifies pending timers are dropped on cancellation
func TestRunStopsOnContextCancel(t *testing.T) {
	l := New()
	fired := false
	l.ScheduleAfter(time.Hour, func() { fired = true })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if fired {
		t.Error("Timer should not have fired")
	}
	if l.Pending() != 0 {
		t.Errorf("Expected pending timers to be dropped, got %d", l.Pending())
	}
}

// TestScheduleFromOtherGoroutineWakesLoop verifies a sleeping loop picks up
// work submitted concurrently
func TestScheduleFromOtherGoroutineWakesLoop(t *testing.T) {
	l := New()
	done := make(chan struct{})
	external := false

	l.ScheduleAfter(200*time.Millisecond, func() { close(done) })

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.ScheduleImmediate(func() { external = true })
	}()

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-done
	if !external {
		t.Error("Expected externally scheduled task to run")
	}
}

// TestRunRejectsReentry verifies Run cannot be called from inside a task
func TestRunRejectsReentry(t *testing.T) {
	l := New()
	var inner error
	l.ScheduleImmediate(func() {
		inner = l.Run(context.Background())
	})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(inner, ErrLoopAlreadyRunning) {
		t.Errorf("Expected ErrLoopAlreadyRunning, got %v", inner)
	}
}
