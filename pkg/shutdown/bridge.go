package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalHandler receives OS signals forwarded by a Bridge
type SignalHandler interface {
	HandleSignal(os.Signal)
}

// Bridge forwards OS signals to a handler from its own goroutine. The handler
// is expected to only flip a shutdown flag; the daemon loop observes it at the
// next iteration boundary.
type Bridge struct {
	handler SignalHandler
	sigCh   chan os.Signal
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBridge creates a bridge delivering to handler
func NewBridge(handler SignalHandler) *Bridge {
	return &Bridge{
		handler: handler,
		sigCh:   make(chan os.Signal, 2),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to signals (SIGINT and SIGTERM when none are given)
func (b *Bridge) Start(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	signal.Notify(b.sigCh, signals...)
	go b.forward()
}

func (b *Bridge) forward() {
	defer close(b.done)
	for {
		select {
		case sig := <-b.sigCh:
			b.handler.HandleSignal(sig)
		case <-b.stop:
			return
		}
	}
}

// Stop unsubscribes and waits for the forwarding goroutine to exit.
// Start must have been called first.
func (b *Bridge) Stop() {
	b.once.Do(func() {
		signal.Stop(b.sigCh)
		close(b.stop)
		<-b.done
	})
}
