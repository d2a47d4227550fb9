package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/loopd/pkg/logging"
)

// Manager runs cleanup functions once the daemon loop has stopped
type Manager struct {
	funcs   []namedFunc
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
	err     error
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a cleanup manager; every Shutdown call shares a single timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a cleanup function.
// Functions are called in reverse order (LIFO)
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Shutdown executes all registered functions once and returns their joined errors.
// Later calls return the result of the first one.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.mu.Lock()
		funcs := append([]namedFunc(nil), m.funcs...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			f := funcs[i]
			m.logger.Debug("running cleanup", logging.Fields{"resource": f.name})
			if err := f.fn(ctx); err != nil {
				m.logger.Error("cleanup failed", logging.Fields{"resource": f.name, "error": err.Error()})
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			}
		}
		m.err = errors.Join(errs...)
	})
	return m.err
}

// StopHTTPServer creates a cleanup function for an http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource creates a cleanup function for an io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
