package sync

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// Backoff is the retry policy for remote operations: exponential with
// additive jitter, delay = base * 2^(attempt-1) + uniform(0, 0.1*delay).
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
	rng         *rand.Rand
}

// DefaultBackoff matches the engine-wide policy: 3 attempts from a 1s base.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, MaxAttempts: 3}
}

func (b Backoff) attempts() int {
	if b.MaxAttempts <= 0 {
		return 3
	}
	return b.MaxAttempts
}

// Delay returns the wait before the given retry. attempt is 1-based.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	var r float64
	if b.rng != nil {
		r = b.rng.Float64()
	} else {
		r = rand.Float64()
	}
	return d + time.Duration(r*0.1*float64(d))
}

// retryWithAuth validates the session before any remote call: guest sessions
// pass, expired token sessions get exactly one refresh, and an unrecoverable
// session fails fast without touching the retry budget. Only transient
// failures (network, timeout, server) are retried.
func (b Backoff) retryWithAuth(ctx context.Context, session SessionProvider, op func(ctx context.Context) error) error {
	if !session.IsValid() {
		if err := session.Refresh(ctx); err != nil {
			return err
		}
		if !session.IsValid() {
			return domain.Errorf(domain.KindAuthentication, "session invalid after refresh")
		}
	}

	var lastErr error
	refreshed := false
	for attempt := 1; attempt <= b.attempts(); attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return domain.NewError(domain.KindTimeout, "retry wait", ctx.Err())
			case <-time.After(b.Delay(attempt - 1)):
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// A transient auth failure gets one refresh-then-retry; a second
		// one is permanent.
		if domain.KindOf(err) == domain.KindAuthentication {
			if refreshed {
				return err
			}
			if rerr := session.Refresh(ctx); rerr != nil {
				return rerr
			}
			refreshed = true
			continue
		}
		if !domain.Retryable(err) {
			return err
		}
	}
	return lastErr
}

// RetryOperationWithFeedback runs op under the retry policy while emitting
// human-readable progress so callers can reflect live status without polling.
func (b Backoff) RetryOperationWithFeedback(ctx context.Context, name string, session SessionProvider, op func(ctx context.Context) error, onStatus func(string)) error {
	if onStatus == nil {
		onStatus = func(string) {}
	}
	onStatus(fmt.Sprintf("Starting %s...", name))

	attempt := 0
	err := b.retryWithAuth(ctx, session, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			onStatus(fmt.Sprintf("Retrying %s (attempt %d of %d)...", name, attempt, b.attempts()))
		}
		return op(ctx)
	})
	if err != nil {
		onStatus(fmt.Sprintf("%s failed: %v", name, err))
		return err
	}
	onStatus(fmt.Sprintf("%s completed successfully", name))
	return nil
}
