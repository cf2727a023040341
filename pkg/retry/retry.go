// Package retry provides exponential backoff for downloads and channel
// reconnects.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // 0 = retry until the context ends
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the wait, 0-1
}

// DefaultConfig returns the settings used for file downloads.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// ReconnectConfig returns the settings used for real-time channel
// reconnects: unbounded attempts, 1s doubling to 30s.
func ReconnectConfig() Config {
	return Config{
		InitialWait: time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// RetryableError marks an error as transient.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }

func (e RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so Do retries it. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r RetryableError
	return errors.As(err, &r)
}

// Backoff computes successive wait durations.
type Backoff struct {
	cfg     Config
	attempt int
}

// NewBackoff returns a Backoff starting at cfg.InitialWait.
func NewBackoff(cfg Config) *Backoff {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	return &Backoff{cfg: cfg}
}

// Next returns the wait before the next attempt and advances the backoff.
func (b *Backoff) Next() time.Duration {
	wait := float64(b.cfg.InitialWait) * math.Pow(b.cfg.Multiplier, float64(b.attempt))
	if b.cfg.MaxWait > 0 && wait > float64(b.cfg.MaxWait) {
		wait = float64(b.cfg.MaxWait)
	}
	if b.cfg.Jitter > 0 {
		wait += wait * b.cfg.Jitter * (rand.Float64()*2 - 1)
	}
	b.attempt++
	return time.Duration(wait)
}

// Reset starts the backoff over, after a successful attempt.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempts returns how many waits have been handed out since the last reset.
func (b *Backoff) Attempts() int { return b.attempt }

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := NewBackoff(cfg)

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if cfg.MaxAttempts != 0 && attempt == cfg.MaxAttempts {
			break
		}
		if err := Sleep(ctx, backoff.Next()); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
