// Package retry runs a single fallible operation under a bounded, classified
// retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Verdict is the classification of one attempt.
type Verdict int

const (
	// Success ends the loop with the attempt's result.
	Success Verdict = iota
	// Retryable failures are re-attempted while budget remains.
	Retryable
	// Terminal failures stop immediately without consuming retry budget.
	Terminal
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// State is handed to every attempt. Attempt is 0 for the first call.
type State struct {
	Attempt   int
	LastError error
}

// Policy bounds the retry loop.
type Policy struct {
	// MaxAttempts is the number of retries allowed after the first call.
	MaxAttempts int
	Backoff     time.Duration
	// Timeouts are applied per attempt; the last entry repeats. Empty means no timeout.
	Timeouts []time.Duration
}

// DefaultPolicy is the diagram generation policy: two retries, two seconds
// apart, with per-attempt timeouts of 60s, 45s and 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		Backoff:     2 * time.Second,
		Timeouts:    []time.Duration{60 * time.Second, 45 * time.Second, 30 * time.Second},
	}
}

// TimeoutFor returns the timeout of the given attempt.
func (p Policy) TimeoutFor(attempt int) time.Duration {
	if len(p.Timeouts) == 0 {
		return 0
	}
	if attempt >= len(p.Timeouts) {
		return p.Timeouts[len(p.Timeouts)-1]
	}
	return p.Timeouts[attempt]
}

// Operation performs one attempt.
type Operation[T any] func(ctx context.Context, st State) (T, error)

// Classifier decides what an attempt's outcome means. For non-success
// verdicts it returns the reason to report.
type Classifier[T any] func(result T, err error) (Verdict, error)

// Observer is notified after every failed attempt.
type Observer func(st State, verdict Verdict, reason error)

type options struct {
	sleep    func(ctx context.Context, d time.Duration) error
	observer Observer
}

// Option customizes Do.
type Option func(*options)

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithObserver registers a callback invoked after each failed attempt.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Do runs op until it succeeds, fails terminally, or MaxAttempts retries
// have been spent.
func Do[T any](ctx context.Context, p Policy, op Operation[T], classify Classifier[T], opts ...Option) (T, error) {
	o := options{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	st := State{}
	for {
		result, err := runAttempt(ctx, p.TimeoutFor(st.Attempt), st, op)

		verdict, reason := classify(result, err)
		if verdict == Success {
			return result, nil
		}
		if reason == nil {
			reason = err
		}
		if reason == nil {
			reason = errors.New("operation failed")
		}
		if o.observer != nil {
			o.observer(st, verdict, reason)
		}

		if verdict == Terminal {
			return zero, &TerminalError{Attempts: st.Attempt + 1, Err: reason}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("retry aborted: %w", ctxErr)
		}
		if st.Attempt >= p.MaxAttempts {
			return zero, &ExhaustedError{Attempts: st.Attempt + 1, Err: reason}
		}

		if err := o.sleep(ctx, p.Backoff); err != nil {
			return zero, fmt.Errorf("retry aborted: %w", err)
		}
		st.LastError = reason
		st.Attempt++
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, st State, op Operation[T]) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return op(ctx, st)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ClassifyError maps an error to a verdict. Errors exposing Retryable() decide
// for themselves; timeouts and network errors are retryable; anything else
// is terminal.
func ClassifyError(err error) Verdict {
	if err == nil {
		return Success
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		if r.Retryable() {
			return Retryable
		}
		return Terminal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}
	return Terminal
}
