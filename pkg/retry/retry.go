// Package retry retries operations with exponential backoff.
//
// Inside a fiber the backoff must not block the scheduler, so the wait
// between attempts goes through a Sleeper. A *fiber.Scheduler is a Sleeper:
// the retrying fiber blocks and the other fibers keep running.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Sleeper suspends the caller for at least d.
type Sleeper interface {
	Sleep(d time.Duration)
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(d time.Duration)

// Sleep calls f.
func (f SleeperFunc) Sleep(d time.Duration) { f(d) }

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// A value of 0 means retry indefinitely (until context is cancelled).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases after each retry.
	Multiplier float64

	// Jitter adds randomness to delays.
	// 0.0 means no jitter, 0.1 means +/- 10% of the delay.
	Jitter float64

	// RetryableFunc determines if an error should trigger a retry.
	// If nil, all non-nil errors are considered retryable.
	RetryableFunc func(error) bool

	// Sleeper waits between attempts. If nil, Do waits on a wall-clock
	// timer and the wait is interrupted by ctx.
	Sleeper Sleeper

	// Rand is the jitter source. If nil, the global source is used.
	Rand *rand.Rand

	// OnRetry is called after a failed attempt, before the wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns a reasonable default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Do executes the given function with retry logic.
// It returns the last error if all attempts fail.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 10 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 500 * time.Millisecond
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if cfg.RetryableFunc != nil && !cfg.RetryableFunc(err) {
			return err
		}

		// Don't wait after the last attempt
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			break
		}

		wait := cfg.jittered(delay)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, wait, err)
		}
		if err := cfg.sleep(ctx, wait); err != nil {
			return errors.Join(err, lastErr)
		}

		delay = time.Duration(math.Min(float64(delay)*cfg.Multiplier, float64(cfg.MaxDelay)))
	}

	return lastErr
}

// DoWithValue executes the given function with retry logic and returns a value.
func DoWithValue[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// Backoff returns the un-jittered delay before retry n (1-based).
func (cfg Config) Backoff(n int) time.Duration {
	d := float64(cfg.InitialDelay)
	for i := 1; i < n; i++ {
		d = math.Min(d*cfg.Multiplier, float64(cfg.MaxDelay))
	}
	return time.Duration(d)
}

func (cfg Config) jittered(delay time.Duration) time.Duration {
	if cfg.Jitter <= 0 {
		return delay
	}
	f := rand.Float64
	if cfg.Rand != nil {
		f = cfg.Rand.Float64
	}
	jitterRange := float64(delay) * cfg.Jitter
	return delay + time.Duration(f()*2*jitterRange-jitterRange)
}

func (cfg Config) sleep(ctx context.Context, d time.Duration) error {
	if cfg.Sleeper != nil {
		cfg.Sleeper.Sleep(d)
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTemporary is a RetryableFunc that retries unless some error in the chain
// reports Temporary() == false. Errors that say nothing are retried.
func IsTemporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// IsTimeout is a RetryableFunc that retries only errors whose chain reports
// Timeout() == true, such as a fiber giving up on a deadline.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Combine retries when any of funcs does.
func Combine(funcs ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, retryable := range funcs {
			if retryable(err) {
				return true
			}
		}
		return false
	}
}
