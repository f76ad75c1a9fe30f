package sync

import (
	"context"
	"testing"
	"time"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: 100 * time.Millisecond, MaxAttempts: 3}
	for attempt := 1; attempt <= 3; attempt++ {
		base := b.Base << (attempt - 1)
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			if d < base || d > base+base/10 {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, base, base+base/10)
			}
		}
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: time.Millisecond, MaxAttempts: 3}
	calls := 0
	err := b.retryWithAuth(context.Background(), GuestSession{}, func(ctx context.Context) error {
		calls++
		return domain.Errorf(domain.KindValidation, "bad payload")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (validation errors must not be retried)", calls)
	}
}

func TestRetryRefreshesOnAuthFailure(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: time.Millisecond, MaxAttempts: 3}
	session := &fakeSession{user: 1, valid: true}
	calls := 0
	err := b.retryWithAuth(context.Background(), session, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return domain.Errorf(domain.KindAuthentication, "token expired")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryWithAuth: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if session.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", session.refreshes)
	}
}

func TestRetryRefreshesAtMostOnce(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: time.Millisecond, MaxAttempts: 5}
	session := &fakeSession{user: 1, valid: true}
	calls := 0
	err := b.retryWithAuth(context.Background(), session, func(ctx context.Context) error {
		calls++
		return domain.Errorf(domain.KindAuthentication, "token expired")
	})
	if err == nil {
		t.Fatal("expected error when auth keeps failing after refresh")
	}
	if domain.KindOf(err) != domain.KindAuthentication {
		t.Errorf("error kind = %v, want authentication", domain.KindOf(err))
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one before refresh, one after)", calls)
	}
	if session.refreshes != 1 {
		t.Errorf("refreshes = %d, want exactly 1", session.refreshes)
	}
}

func TestRetryWaitsBetweenAttempts(t *testing.T) {
	t.Parallel()
	base := 20 * time.Millisecond
	b := Backoff{Base: base, MaxAttempts: 3}
	calls := 0
	start := time.Now()
	err := b.retryWithAuth(context.Background(), GuestSession{}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.Errorf(domain.KindNetwork, "unreachable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryWithAuth: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	// Two waits: base before attempt 2, 2*base before attempt 3.
	if elapsed := time.Since(start); elapsed < 3*base {
		t.Errorf("elapsed %v, want at least %v of backoff", elapsed, 3*base)
	}
}

func TestRetryExhaustsTransientFailures(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: time.Millisecond, MaxAttempts: 3}
	calls := 0
	err := b.retryWithAuth(context.Background(), GuestSession{}, func(ctx context.Context) error {
		calls++
		return domain.Errorf(domain.KindNetwork, "unreachable")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryOperationWithFeedback(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: time.Millisecond, MaxAttempts: 3}

	t.Run("eventual success", func(t *testing.T) {
		t.Parallel()
		var statuses []string
		calls := 0
		err := b.RetryOperationWithFeedback(context.Background(), "calendar sync", GuestSession{}, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return domain.Errorf(domain.KindNetwork, "flaky")
			}
			return nil
		}, func(s string) { statuses = append(statuses, s) })
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{
			"Starting calendar sync...",
			"Retrying calendar sync (attempt 2 of 3)...",
			"Retrying calendar sync (attempt 3 of 3)...",
			"calendar sync completed successfully",
		}
		if len(statuses) != len(want) {
			t.Fatalf("statuses = %q, want %q", statuses, want)
		}
		for i := range want {
			if statuses[i] != want[i] {
				t.Errorf("status[%d] = %q, want %q", i, statuses[i], want[i])
			}
		}
	})

	t.Run("terminal failure", func(t *testing.T) {
		t.Parallel()
		var statuses []string
		err := b.RetryOperationWithFeedback(context.Background(), "calendar sync", GuestSession{}, func(ctx context.Context) error {
			return domain.Errorf(domain.KindPermission, "forbidden")
		}, func(s string) { statuses = append(statuses, s) })
		if err == nil {
			t.Fatal("expected error")
		}
		last := statuses[len(statuses)-1]
		if last != "calendar sync failed: permission: forbidden" {
			t.Errorf("final status = %q", last)
		}
	})
}

func TestTokenSessionRefresh(t *testing.T) {
	t.Parallel()
	clock := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	session := NewTokenSession(5, clock.Add(-time.Minute), func(ctx context.Context) (time.Time, error) {
		return clock.Add(time.Hour), nil
	})
	session.SetNowFunc(func() time.Time { return clock })

	if session.IsValid() {
		t.Fatal("expired session reported valid")
	}
	if err := session.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !session.IsValid() {
		t.Fatal("session invalid after refresh")
	}
	if session.CurrentUser() != 5 {
		t.Errorf("user = %d, want 5", session.CurrentUser())
	}
}
