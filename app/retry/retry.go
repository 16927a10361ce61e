// Package retry provides the retry-until-success combinator every outbound
// network call in the pipeline is wrapped in.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff maps the number of unsuccessful attempts so far to a blocking wait
// applied before the next attempt.
type Backoff func(attempt int) time.Duration

// Linear is the default backoff: one minute per unsuccessful attempt, capped
// at thirty minutes.
func Linear(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Minute
	if d > 30*time.Minute {
		d = 30 * time.Minute
	}
	return d
}

// Operation is one retryable unit of work. It reports done=true with the
// final value, or done=false to request another attempt. A returned error is
// logged and treated the same as done=false.
type Operation[T any] func(ctx context.Context) (value T, done bool, err error)

// ExhaustedError reports that UntilSuccess gave up after its attempt budget.
type ExhaustedError struct {
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: no success after %d attempts", e.Attempts)
}

// StatefulOperation is an Operation that carries an explicit state value
// between attempts: each attempt receives the state the previous attempt
// returned, whether or not that attempt failed. This replaces the pattern of
// the operation closing over a mutable variable.
type StatefulOperation[S, T any] func(ctx context.Context, state S) (next S, value T, done bool, err error)

// UntilSuccess repeats op until it reports done, sleeping backoff(attempt)
// between unsuccessful attempts. maxAttempts of 0 retries indefinitely;
// otherwise an *ExhaustedError is returned after exactly maxAttempts calls.
// Cancelling the context aborts the wait and returns ctx.Err().
func UntilSuccess[T any](ctx context.Context, op Operation[T], backoff Backoff, maxAttempts int) (T, error) {
	stateless := func(ctx context.Context, _ struct{}) (struct{}, T, bool, error) {
		value, done, err := op(ctx)
		return struct{}{}, value, done, err
	}
	return UntilSuccessFrom(ctx, stateless, struct{}{}, backoff, maxAttempts)
}

// UntilSuccessFrom is UntilSuccess for operations that need to resume from
// where the previous attempt left off, such as a redirect resolution that
// continues from the URL that failed rather than the original.
func UntilSuccessFrom[S, T any](ctx context.Context, op StatefulOperation[S, T], initial S, backoff Backoff, maxAttempts int) (T, error) {
	var zero T
	if backoff == nil {
		backoff = Linear
	}

	state := initial
	for attempt := 1; maxAttempts == 0 || attempt <= maxAttempts; attempt++ {
		next, value, done, err := op(ctx, state)
		state = next
		if err != nil {
			slog.Warn("Retryable operation failed", "attempt", attempt, "error", err)
		} else if done {
			return value, nil
		}

		if maxAttempts != 0 && attempt == maxAttempts {
			break
		}

		if err := sleep(ctx, backoff(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	slog.Debug("Backing off", "duration", d.String())
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
