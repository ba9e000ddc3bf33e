// Package retry implements the migration engine's single retry policy:
// execute a thunk under exponential backoff, distinguishing retryable
// target-store failures from fatal ones. Grounded on block/spirit's
// pkg/dbconn.RetryableTransaction/canRetryError, generalized from a
// fixed MySQL error-number switch to a pgx error-class switch and from
// a hand-rolled jittered sleep to github.com/cenkalti/backoff/v4's
// exponential backoff, treating doubling-factor and initial-delay as
// independently configurable knobs rather than an inline
// implementation detail.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
)

// Policy configures the retry loop. Defaults match DefaultPolicy.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
	}
}

// MaxSleep is the upper bound on any single wait: the retry policy
// never sleeps longer than initialDelay * factor^(maxAttempts-1).
func (p Policy) MaxSleep() time.Duration {
	if p.MaxAttempts <= 1 {
		return 0
	}
	mult := 1.0
	for i := 0; i < p.MaxAttempts-1; i++ {
		mult *= p.Factor
	}
	return time.Duration(float64(p.InitialDelay) * mult)
}

// FatalError wraps an error that must not be retried, unwrapping to
// the original cause.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Fatal marks err as non-retryable regardless of Classify's verdict,
// for callers (e.g. the batch writer) that have already determined a
// failure is a constraint violation.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Do executes fn under the given policy. It returns fn's error
// immediately if Classify deems it fatal; otherwise it sleeps
// delay*factor^(attempt-1) and retries, up to MaxAttempts, finally
// returning the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		Multiplier:          p.Factor,
		RandomizationFactor: 0,
		MaxInterval:         p.MaxSleep(),
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var fatal *FatalError
		if errors.As(lastErr, &fatal) {
			return fatal.Unwrap()
		}
		if !Classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
	return lastErr
}

// Classify reports whether err is retryable: serialization conflicts,
// connection failures, resource exhaustion,
// transient network I/O failures, and (catch-all) anything else that
// isn't a recognized fatal class.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[0:2] {
		case "40": // transaction_rollback (serialization failure, deadlock)
			return true
		case "08": // connection_exception
			return true
		case "53": // insufficient_resources
			return true
		case "23": // integrity_constraint_violation
			return pgErr.Code == "23505" // duplicate key handled at writer level
		case "22": // data_exception: type coercion, unencodable value
			return false
		case "28": // invalid_authorization_specification
			return false
		}
		// Unrecognized SQLSTATE class: fall through to the catch-all.
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Catch-all: an unrecognized error is treated as retryable.
	return true
}
