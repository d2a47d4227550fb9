package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/logging"
	"github.com/psantana5/loopd/pkg/resources"
)

// TestTiming tests duration while running and after completion
func TestTiming(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	timing := newTimingWithClock(func() time.Time { return now })

	now = now.Add(2 * time.Second)
	if d := timing.Duration(); d != 2*time.Second {
		t.Errorf("Expected 2s while running, got %v", d)
	}

	timing.Complete()
	now = now.Add(time.Hour)
	if d := timing.Duration(); d != 2*time.Second {
		t.Errorf("Expected 2s after completion, got %v", d)
	}
}

// TestLogSubscriberLevels tests which events reach which level
func TestLogSubscriberLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&buf, logging.INFO, false)

	calls := 0
	c, err := daemon.New(func(ctx context.Context, c *daemon.Controller) error {
		calls++
		if calls == 1 {
			return errors.New("cache miss storm")
		}
		return nil
	}, daemon.Options{
		Config:     daemon.Config{MaxIterations: 2, MemoryMax: 10},
		Subscriber: NewLogSubscriber(logger),
		Memory:     resources.Static{CurrentBytes: 5, PeakBytes: 5},
	})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"INFO: daemon.start",
		"INFO: daemon.loop.begin",
		"WARN: iteration fault",
		"cache miss storm",
		"INFO: daemon.stop",
		"exit_code=0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "iteration completed") {
		t.Error("Iterations should only be logged at DEBUG")
	}
}

// TestLogSubscriberMemory tests the memory budget warning
func TestLogSubscriberMemory(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&buf, logging.DEBUG, false)

	c, err := daemon.New(func(ctx context.Context, c *daemon.Controller) error {
		return nil
	}, daemon.Options{
		Config:     daemon.Config{MemoryMax: 10},
		Subscriber: NewLogSubscriber(logger),
		Memory:     resources.Static{CurrentBytes: 20, PeakBytes: 20},
	})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "WARN: memory budget reached") || !strings.Contains(out, "memory_max=10") {
		t.Errorf("Expected memory warning, got\n%s", out)
	}
	if !strings.Contains(out, "DEBUG: iteration completed") {
		t.Errorf("Expected iteration debug line, got\n%s", out)
	}
}

// TestControllerAndSubscriberLogOnce tests that sharing one logger between the
// controller and the subscriber does not duplicate event lines
func TestControllerAndSubscriberLogOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&buf, logging.INFO, false)

	calls := 0
	c, err := daemon.New(func(ctx context.Context, c *daemon.Controller) error {
		calls++
		if calls == 1 {
			return errors.New("upstream 502")
		}
		return daemon.Stop(4, "queue drained")
	}, daemon.Options{
		Config:     daemon.Config{MemoryMax: 10},
		Logger:     logger,
		Subscriber: NewLogSubscriber(logger),
		Memory:     resources.Static{CurrentBytes: 5, PeakBytes: 5},
	})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	if code, err := c.Run(context.Background()); err != nil || code != 4 {
		t.Fatalf("Expected exit code 4, got %d (%v)", code, err)
	}

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, want := range []string{"upstream 502", "queue drained", "INFO: daemon.start", "INFO: daemon.stop"} {
		n := 0
		for _, line := range lines {
			if strings.Contains(line, want) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("Expected %q logged once, got %d times\n%s", want, n, out)
		}
	}
	if !strings.Contains(out, "max_iterations=0") || !strings.Contains(out, "memory_max=10") {
		t.Errorf("Expected limits on the start line, got\n%s", out)
	}
}
