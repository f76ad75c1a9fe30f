package sync

import (
	"context"
	"sync"
	"time"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// SessionProvider is the narrow view of the auth layer the engine consumes.
type SessionProvider interface {
	// IsValid reports whether the session can authorize a remote call
	// right now.
	IsValid() bool
	// Refresh renews an expired session. A failure is terminal for the
	// current sync pass.
	Refresh(ctx context.Context) error
	// CurrentUser identifies the (reminder id, user id) keyspace remote
	// records live under.
	CurrentUser() int64
}

// GuestSession is always valid and never refreshes. Guests sync against
// their local-only keyspace.
type GuestSession struct {
	UserID int64
}

func (g GuestSession) IsValid() bool                     { return true }
func (g GuestSession) Refresh(ctx context.Context) error { return nil }
func (g GuestSession) CurrentUser() int64                { return g.UserID }

// RefreshFunc renews a token, returning the new expiry.
type RefreshFunc func(ctx context.Context) (expiresAt time.Time, err error)

// TokenSession expires and supports a single refresh per failed validation.
type TokenSession struct {
	mu        sync.Mutex
	userID    int64
	expiresAt time.Time
	refresh   RefreshFunc
	now       func() time.Time
}

func NewTokenSession(userID int64, expiresAt time.Time, refresh RefreshFunc) *TokenSession {
	return &TokenSession{
		userID:    userID,
		expiresAt: expiresAt,
		refresh:   refresh,
		now:       time.Now,
	}
}

func (t *TokenSession) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.expiresAt)
}

func (t *TokenSession) Refresh(ctx context.Context) error {
	t.mu.Lock()
	refresh := t.refresh
	t.mu.Unlock()

	if refresh == nil {
		return domain.Errorf(domain.KindAuthentication, "session expired and no refresh available")
	}
	expiresAt, err := refresh(ctx)
	if err != nil {
		return domain.NewError(domain.KindAuthentication, "refresh session", err)
	}
	t.mu.Lock()
	t.expiresAt = expiresAt
	t.mu.Unlock()
	return nil
}

func (t *TokenSession) CurrentUser() int64 { return t.userID }

// SetNowFunc overrides the clock. Tests only.
func (t *TokenSession) SetNowFunc(now func() time.Time) { t.now = now }
