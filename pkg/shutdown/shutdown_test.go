package shutdown

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/psantana5/loopd/pkg/logging"
)

// TestShutdownRunsLIFO tests cleanup order and error aggregation
func TestShutdownRunsLIFO(t *testing.T) {
	m := New(time.Second, logging.Discard())
	var order []string

	m.Register("journal", func(ctx context.Context) error {
		order = append(order, "journal")
		return nil
	})
	m.Register("tracer", func(ctx context.Context) error {
		order = append(order, "tracer")
		return errors.New("exporter unreachable")
	})
	m.Register("metrics", func(ctx context.Context) error {
		order = append(order, "metrics")
		return nil
	})

	err := m.Shutdown()
	if err == nil || err.Error() != "tracer: exporter unreachable" {
		t.Errorf("Expected tracer error, got %v", err)
	}

	want := []string{"metrics", "tracer", "journal"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, order)
		}
	}

	if again := m.Shutdown(); again != err {
		t.Errorf("Second Shutdown should return the first result, got %v", again)
	}
	if len(order) != 3 {
		t.Errorf("Cleanup functions ran twice: %v", order)
	}
}

// TestShutdownTimeout tests that cleanup functions see the shared deadline
func TestShutdownTimeout(t *testing.T) {
	m := New(10*time.Millisecond, nil)
	m.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := m.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// TestHelpers tests the http.Server and io.Closer adapters
func TestHelpers(t *testing.T) {
	closed := false
	if err := CloseResource(closerFunc(func() error { closed = true; return nil }))(context.Background()); err != nil {
		t.Fatalf("CloseResource failed: %v", err)
	}
	if !closed {
		t.Error("Expected resource to be closed")
	}

	srv := httptest.NewServer(nil)
	defer srv.Close()
	if err := StopHTTPServer(srv.Config)(context.Background()); err != nil {
		t.Errorf("StopHTTPServer failed: %v", err)
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	signals []os.Signal
	got     chan struct{}
}

func (h *recordingHandler) HandleSignal(sig os.Signal) {
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	h.mu.Unlock()
	h.got <- struct{}{}
}

// TestBridgeForwardsSignals tests delivery of a real signal to the handler
func TestBridgeForwardsSignals(t *testing.T) {
	h := &recordingHandler{got: make(chan struct{}, 1)}
	b := NewBridge(h)
	b.Start(syscall.SIGUSR1)
	defer b.Stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send signal: %v", err)
	}

	select {
	case <-h.got:
	case <-time.After(5 * time.Second):
		t.Fatal("Signal was not forwarded")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.signals) != 1 || h.signals[0] != syscall.SIGUSR1 {
		t.Errorf("Expected SIGUSR1, got %v", h.signals)
	}
}

// TestBridgeStopIsIdempotent tests that Stop can be called twice
func TestBridgeStopIsIdempotent(t *testing.T) {
	b := NewBridge(&recordingHandler{got: make(chan struct{}, 1)})
	b.Start()
	b.Stop()
	b.Stop()
}
