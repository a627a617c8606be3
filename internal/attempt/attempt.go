// Package attempt implements the retry policy used to talk to page
// collectors: an attempt, one optional remediation step for a specific
// error class, and a bounded number of further attempts with a fixed
// backoff.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy tunes Do.
type Policy struct {
	// MaxAttempts is the total attempt budget; values below 1 mean 1.
	MaxAttempts int
	// Backoff is waited between attempts (not before the remediation retry).
	Backoff time.Duration
	// Remediable selects the errors that trigger Remediate.
	Remediable func(error) bool
	// Remediate runs at most once per Do call, followed by an immediate retry
	// that belongs to the same attempt.
	Remediate func(ctx context.Context) error
	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
}

// Result describes how Do finished.
type Result struct {
	Attempts   int
	Remediated bool
}

// Do runs op until it succeeds, the budget is spent or ctx is done. The last
// error is returned wrapped with the number of attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, Result, error) {
	var (
		zero    T
		res     Result
		lastErr error
	)

	budget := p.MaxAttempts
	if budget < 1 {
		budget = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for res.Attempts < budget {
		res.Attempts++

		v, err := op(ctx)
		if err == nil {
			return v, res, nil
		}
		lastErr = err

		if !res.Remediated && p.Remediate != nil && p.Remediable != nil && p.Remediable(err) {
			res.Remediated = true
			if remErr := p.Remediate(ctx); remErr != nil {
				lastErr = fmt.Errorf("remediation failed: %w (after %v)", remErr, err)
			} else {
				v, err = op(ctx)
				if err == nil {
					return v, res, nil
				}
				lastErr = err
			}
		}

		if ctx.Err() != nil {
			return zero, res, errors.Join(lastErr, ctx.Err())
		}
		if res.Attempts < budget && p.Backoff > 0 {
			if err := sleep(ctx, p.Backoff); err != nil {
				return zero, res, errors.Join(lastErr, err)
			}
		}
	}

	return zero, res, fmt.Errorf("after %d attempt(s): %w", res.Attempts, lastErr)
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
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
