package daemon

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the per-run loop configuration. It is read once when the controller
// starts and never changes while iterations are running.
type Config struct {
	// RunOnce forces a single iteration and takes precedence over MaxIterations
	RunOnce bool

	// MaxIterations stops the loop after that many iterations; 0 means unbounded
	MaxIterations int

	// MemoryMax is the peak memory budget in bytes; 0 means unlimited
	MemoryMax uint64

	ShutdownOnException bool
	ShowExceptions      bool

	// Sleep is the default pause between iterations
	Sleep time.Duration

	// IterationEvents are emitted every Count completed iterations
	IterationEvents []PeriodicEvent
}

// PeriodicEvent names an event emitted when the iteration count is a multiple of Count
type PeriodicEvent struct {
	Name  string `mapstructure:"name" yaml:"name" json:"name"`
	Count int    `mapstructure:"count" yaml:"count" json:"count"`
}

// Validate checks the configuration for values the controller cannot honor
func (c Config) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("%w: run-max must be >= 0, got %d", ErrInvalidArgument, c.MaxIterations)
	}
	if c.Sleep < 0 {
		return fmt.Errorf("%w: sleep must be >= 0, got %s", ErrInvalidArgument, c.Sleep)
	}
	for i, ev := range c.IterationEvents {
		if strings.TrimSpace(ev.Name) == "" {
			return fmt.Errorf("%w: iteration event #%d has an empty name", ErrInvalidArgument, i)
		}
		if ev.Count < 1 {
			return fmt.Errorf("%w: iteration event %q count must be >= 1, got %d", ErrInvalidArgument, ev.Name, ev.Count)
		}
	}
	return nil
}

// EffectiveMaxIterations returns the iteration limit after applying RunOnce
func (c Config) EffectiveMaxIterations() int {
	if c.RunOnce {
		return 1
	}
	return c.MaxIterations
}

// OptionSource is a read-only view over command-line options
type OptionSource interface {
	HasOption(name string) bool
	GetOption(name string) string
}

// MapOptions is an OptionSource backed by a map. Boolean options are present
// when the key exists, whatever the value, unless the value parses as false.
type MapOptions map[string]string

func (m MapOptions) HasOption(name string) bool {
	_, ok := m[name]
	return ok
}

func (m MapOptions) GetOption(name string) string {
	return m[name]
}

// Option names understood by ConfigFromOptions
const (
	OptRunOnce             = "run-once"
	OptRunMax              = "run-max"
	OptMemoryMax           = "memory-max"
	OptShutdownOnException = "shutdown-on-exception"
	OptShowExceptions      = "show-exceptions"
)

// ConfigFromOptions overlays the recognized options on base.
// run-once wins over run-max; memory-max of 0 means unlimited.
func ConfigFromOptions(base Config, src OptionSource) (Config, error) {
	cfg := base
	if src == nil {
		return cfg, cfg.Validate()
	}

	if src.HasOption(OptShutdownOnException) {
		cfg.ShutdownOnException = optionBool(src.GetOption(OptShutdownOnException))
	}
	if src.HasOption(OptShowExceptions) {
		cfg.ShowExceptions = optionBool(src.GetOption(OptShowExceptions))
	}
	if src.HasOption(OptMemoryMax) {
		if raw := strings.TrimSpace(src.GetOption(OptMemoryMax)); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("%w: memory-max %q: %v", ErrInvalidArgument, raw, err)
			}
			cfg.MemoryMax = v
		}
	}

	if src.HasOption(OptRunOnce) && optionBool(src.GetOption(OptRunOnce)) {
		cfg.RunOnce = true
	} else if src.HasOption(OptRunMax) {
		if raw := strings.TrimSpace(src.GetOption(OptRunMax)); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return cfg, fmt.Errorf("%w: run-max %q: %v", ErrInvalidArgument, raw, err)
			}
			cfg.MaxIterations = v
		}
	}

	return cfg, cfg.Validate()
}

// optionBool treats an empty value as a bare flag being set
func optionBool(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return v
}
