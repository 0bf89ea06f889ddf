// Package upstream wraps calls that cross a network boundary with a per-attempt
// deadline and a bounded exponential-backoff retry.
package upstream

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

type Policy struct {
	Attempts  int           // total attempts, at least 1
	Timeout   time.Duration // deadline for a single attempt
	BaseDelay time.Duration // delay before the second attempt, doubled each time
	MaxDelay  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		Timeout:   3 * time.Second,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
	}
}

// Delay is the wait after the n-th consecutive failure: BaseDelay doubled per
// failure, capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// permanentError marks an outcome the remote reported explicitly
// (not found, invalid). It is never retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. Each attempt gets its own timeout derived from ctx.
// The returned error is the last attempt's error with any Permanent marker removed.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if ctx.Err() != nil {
			if err == nil {
				err = ctx.Err()
			}
			return err
		}

		err = runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !IsTransient(err) || attempt == p.Attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.Delay(attempt)):
		}
	}
	return err
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

// transientError lets callers flag a failure as retryable explicitly,
// e.g. a 5xx response.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports timeouts, connection resets and explicitly flagged errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
