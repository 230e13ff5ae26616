// Package retry runs a fallible operation under a bounded retry policy with an
// explicit table deciding which errors are worth another attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class is the retry classification of an error.
type Class int

const (
	// Fatal errors abort immediately without consuming remaining attempts.
	Fatal Class = iota
	// Retryable errors are retried after the policy delay.
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classifier decides whether an error is retryable.
type Classifier interface {
	Classify(err error) Class
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Class

// Classify implements Classifier.
func (f ClassifierFunc) Classify(err error) Class {
	return f(err)
}

// Table classifies errors by matching them with errors.Is against known
// sentinels. Fatal entries win over Retryable ones; unmatched errors get Default.
type Table struct {
	Retryable []error
	Fatal     []error
	Default   Class
}

// Classify implements Classifier.
func (t Table) Classify(err error) Class {
	for _, target := range t.Fatal {
		if errors.Is(err, target) {
			return Fatal
		}
	}
	for _, target := range t.Retryable {
		if errors.Is(err, target) {
			return Retryable
		}
	}
	return t.Default
}

// ErrExhausted matches an *ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

// Unwrap exposes the last observed cause.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is matches ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Transient marks the failure as having a transient cause.
func (e *ExhaustedError) Transient() bool {
	return true
}

// InvalidResultError reports an attempt that returned without error but whose
// result failed validation. It is never retried.
type InvalidResultError struct {
	Attempt int
	Err     error
}

func (e *InvalidResultError) Error() string {
	return fmt.Sprintf("attempt %d returned an invalid result: %v", e.Attempt, e.Err)
}

func (e *InvalidResultError) Unwrap() error {
	return e.Err
}

// Policy bounds the retry loop.
type Policy struct {
	// MaxAttempts is the total number of tries, at least 1.
	MaxAttempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Multiplier scales the delay after every retry. Values below 1 mean a fixed delay.
	Multiplier float64
	// MaxDelay caps the delay when positive.
	MaxDelay time.Duration
	// Classifier decides which errors are retryable. Nil treats every error as fatal.
	Classifier Classifier
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must be >= 0, got %s", p.Delay)
	}
	if p.Multiplier < 0 {
		return fmt.Errorf("multiplier must be >= 0, got %g", p.Multiplier)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max delay must be >= 0, got %s", p.MaxDelay)
	}
	return nil
}

// DelayFor returns the wait after the given failed attempt (1-based).
func (p Policy) DelayFor(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) classify(err error) Class {
	if p.Classifier == nil {
		return Fatal
	}
	return p.Classifier.Classify(err)
}

// Do runs op until it succeeds, fails fatally, or the attempt budget is spent.
// check, when non-nil, validates a successful result; a rejected result is
// fatal. The attempt count is reported to op so callers can log it.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error), check func(T) error) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := op(ctx, attempt)
		if err == nil {
			if check != nil {
				if cerr := check(out); cerr != nil {
					return zero, &InvalidResultError{Attempt: attempt, Err: cerr}
				}
			}
			return out, nil
		}

		last = err
		if p.classify(err) == Fatal {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if serr := sleep(ctx, p.DelayFor(attempt)); serr != nil {
			return zero, fmt.Errorf("waiting to retry after attempt %d: %w", attempt, serr)
		}
	}
	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Last: last}
}

func wait(ctx context.Context, d time.Duration) error {
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
