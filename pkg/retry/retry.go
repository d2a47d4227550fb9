package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Maximum number of retry attempts after the first call
	InitialBackoff time.Duration // Pause before the first retry
	MaxBackoff     time.Duration // Upper bound for any pause
	Multiplier     float64       // Backoff multiplier (exponential)

	// Retryable decides whether an error is worth another attempt; nil retries everything
	Retryable func(error) bool
}

// DefaultConfig returns the defaults used when opening sinks at startup
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Retryable:      IsRetryable,
	}
}

// ErrExhausted wraps the last error once every attempt failed
var ErrExhausted = errors.New("max retries exceeded")

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// run out or ctx is done
func Do(ctx context.Context, config Config, fn func() error) error {
	return do(ctx, config, fn, sleep)
}

func do(ctx context.Context, config Config, fn func() error, wait func(context.Context, time.Duration) error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}
		lastErr = err

		if attempt == config.MaxRetries {
			break
		}
		if err := wait(ctx, backoff); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("%w (%d): %w", ErrExhausted, config.MaxRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports whether err looks like a transient connection failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"database is locked",
		"the database system is starting up",
		"eof",
		"broken pipe",
	}
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}
