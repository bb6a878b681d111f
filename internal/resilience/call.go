package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MaxRetries caps [Policy.Retries]. A live call cannot afford to wait on a
// flaky dependency for longer than two attempts.
const MaxRetries = 1

// Policy is the failure policy of one pipeline stage.
type Policy struct {
	// Name labels the stage in logs ("stt", "tts", "analyzer", ...).
	Name string

	// Timeout bounds each attempt. Zero means no per-attempt bound beyond
	// the caller's context.
	Timeout time.Duration

	// Retries is the number of additional attempts after a failure. Values
	// above MaxRetries are clamped.
	Retries int

	// Backoff is the pause before a retry.
	Backoff time.Duration
}

// Outcome describes how a [Call] went.
type Outcome struct {
	// Attempts is the number of times fn was invoked.
	Attempts int

	// Err is the last attempt's error when the fallback was used, else nil.
	Err error

	// Elapsed is the total wall-clock time including retries.
	Elapsed time.Duration
}

// FellBack reports whether the fallback value was returned.
func (o Outcome) FellBack() bool { return o.Err != nil }

// permanentError marks an error that a retry cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string   { return e.err.Error() }
func (e permanentError) Unwrap() error   { return e.err }
func (e permanentError) Permanent() bool { return true }

// IsPermanent reports whether err or any error it wraps has a
// Permanent() bool method returning true. Provider errors for rejected
// requests use it to opt out of retries without importing this package.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// Permanent wraps err so that [Call] does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Call runs fn under p and never fails: when every attempt errors (or
// panics) the fallback is returned and the reason is reported in the
// [Outcome]. Retries stop early when ctx is done or the error is
// permanent (see [IsPermanent]).
func Call[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), fallback T) (T, Outcome) {
	start := time.Now()
	retries := min(max(p.Retries, 0), MaxRetries)

	var out Outcome
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 && p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			if out.Err == nil {
				out.Err = err
			}
			break
		}

		out.Attempts++
		v, err := attemptOnce(ctx, p.Timeout, fn)
		if err == nil {
			out.Err = nil
			out.Elapsed = time.Since(start)
			return v, out
		}
		out.Err = err
		slog.Warn("external call failed",
			"stage", p.Name, "attempt", out.Attempts, "err", err)

		if IsPermanent(err) {
			break
		}
	}
	out.Elapsed = time.Since(start)
	return fallback, out
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (v T, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resilience: panic: %v", r)
		}
	}()
	return fn(ctx)
}
