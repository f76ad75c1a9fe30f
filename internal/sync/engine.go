package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/schedule"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/storage"
)

// Result summarises one synchronization pass.
type Result struct {
	Pushed  int
	Pulled  int
	Skipped int
	Failed  int
	Errors  []string
}

// Engine drains the local sync queue against a remote store and then pulls
// remote records back, resolving conflicts with the configured strategy.
// Only one pass runs at a time.
type Engine struct {
	store    *storage.Storage
	remote   RemoteStore
	session  SessionProvider
	strategy Strategy
	backoff  Backoff
	limiter  *rate.Limiter
	log      zerolog.Logger
	now      func() time.Time

	busy chan struct{}
}

// Options tune an Engine. Zero values fall back to defaults.
type Options struct {
	Strategy   Strategy
	Backoff    Backoff
	RatePerSec float64
}

func NewEngine(store *storage.Storage, remote RemoteStore, session SessionProvider, opts Options, log zerolog.Logger) *Engine {
	if opts.Backoff.Base == 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	e := &Engine{
		store:    store,
		remote:   remote,
		session:  session,
		strategy: opts.Strategy,
		backoff:  opts.Backoff,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		log:      log.With().Str("component", "sync").Logger(),
		now:      time.Now,
		busy:     make(chan struct{}, 1),
	}
	return e
}

// SetNowFunc replaces the clock, used in tests.
func (e *Engine) SetNowFunc(now func() time.Time) { e.now = now }

// SyncNow runs one full push-then-pull pass. A pass already in flight makes
// the call a no-op so overlapping timers cannot double-apply queue entries.
func (e *Engine) SyncNow(ctx context.Context) (*Result, error) {
	select {
	case e.busy <- struct{}{}:
		defer func() { <-e.busy }()
	default:
		return nil, domain.Errorf(domain.KindConflict, "sync pass already running")
	}

	if !e.session.IsValid() {
		if err := e.session.Refresh(ctx); err != nil {
			return nil, domain.NewError(domain.KindAuthentication, "sync", err)
		}
	}

	res := &Result{}
	if err := e.push(ctx, res); err != nil {
		return res, err
	}
	if err := e.pull(ctx, res); err != nil {
		return res, err
	}
	e.log.Info().
		Int("pushed", res.Pushed).
		Int("pulled", res.Pulled).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("sync pass finished")
	return res, nil
}

// push drains pending queue entries oldest first. A failed entry stays in the
// queue with a bumped retry counter; the pass moves on to the next entry so
// one poisoned record cannot wedge the whole queue.
func (e *Engine) push(ctx context.Context, res *Result) error {
	entries, err := e.store.ListQueue(0)
	if err != nil {
		return domain.NewError(domain.KindServer, "sync.push", err)
	}
	for _, entry := range entries {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := e.pushEntry(ctx, entry); err != nil {
			if domain.KindOf(err) == domain.KindAuthentication {
				return err
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s %s: %v", entry.Op, entry.ID, err))
			if bumpErr := e.store.BumpQueueRetry(entry.ID, err.Error()); bumpErr != nil {
				e.log.Error().Err(bumpErr).Str("entry", entry.ID).Msg("failed to record retry")
			}
			continue
		}
		if err := e.store.AckQueueEntry(entry.ID); err != nil {
			return domain.NewError(domain.KindServer, "sync.push", err)
		}
		res.Pushed++
	}
	return nil
}

func (e *Engine) pushEntry(ctx context.Context, entry *domain.SyncQueueEntry) error {
	switch entry.Op {
	case domain.OpDelete:
		return e.backoff.retryWithAuth(ctx, e.session, func(ctx context.Context) error {
			return e.remote.Delete(ctx, entry.ReminderID, entry.UserID)
		})
	case domain.OpInsert, domain.OpUpdate:
		snapshot, err := entry.Snapshot()
		if err != nil {
			return err
		}
		op := e.remote.Update
		if entry.Op == domain.OpInsert {
			op = e.remote.Insert
		}
		return e.backoff.retryWithAuth(ctx, e.session, func(ctx context.Context) error {
			return op(ctx, snapshot)
		})
	default:
		return domain.Errorf(domain.KindValidation, "unknown queue operation %q", entry.Op)
	}
}

// pull fetches the remote snapshot and folds it into local storage. A local
// row with a pending intent or a strictly newer updatedAt is never touched,
// regardless of strategy.
func (e *Engine) pull(ctx context.Context, res *Result) error {
	userID := e.session.CurrentUser()
	var remotes []domain.Reminder
	err := e.backoff.retryWithAuth(ctx, e.session, func(ctx context.Context) error {
		var opErr error
		remotes, opErr = e.remote.Select(ctx, userID)
		return opErr
	})
	if err != nil {
		return err
	}

	locals, err := e.store.ListReminders(userID)
	if err != nil {
		return domain.NewError(domain.KindServer, "sync.pull", err)
	}
	byID := make(map[int64]*domain.Reminder, len(locals))
	for _, l := range locals {
		byID[l.ID] = l
	}

	for _, remote := range remotes {
		local, exists := byID[remote.ID]
		if !exists {
			// A queue entry for an absent row means the reminder was
			// deleted locally and the delete has not flushed yet. Adopting
			// the remote copy would resurrect it.
			pending, err := e.store.HasPendingIntent(remote.ID)
			if err != nil {
				return domain.NewError(domain.KindServer, "sync.pull", err)
			}
			if pending {
				res.Skipped++
				continue
			}
			adopted := remote
			e.refreshOccurrence(&adopted)
			if err := e.store.ApplyRemote(&adopted); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("adopt %d: %v", remote.ID, err))
				continue
			}
			res.Pulled++
			continue
		}

		pending, err := e.store.HasPendingIntent(local.ID)
		if err != nil {
			return domain.NewError(domain.KindServer, "sync.pull", err)
		}
		if pending || local.UpdatedAt.After(remote.UpdatedAt) {
			res.Skipped++
			continue
		}

		winner := e.strategy.Resolve(*local, remote)
		if winner.UpdatedAt.Equal(local.UpdatedAt) && winner.Status == local.Status &&
			winner.CompletionCount == local.CompletionCount && winner.Title == local.Title {
			res.Skipped++
			continue
		}
		winner.ID = local.ID
		winner.CreatedAt = local.CreatedAt
		e.refreshOccurrence(&winner)
		if err := e.store.ApplyRemote(&winner); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("apply %d: %v", remote.ID, err))
			continue
		}
		res.Pulled++
	}
	return nil
}

// refreshOccurrence recomputes the next occurrence for records arriving from
// the remote side, which carry no locally scheduled instant.
func (e *Engine) refreshOccurrence(r *domain.Reminder) {
	if r.Status != domain.StatusActive && r.Status != domain.StatusSnoozed {
		r.ClearNextOccurrence(statusDisplay(r.Status))
		return
	}
	next, err := schedule.NextInstant(r.Frequency, r.TimeOfDay, e.now())
	if err != nil {
		r.ClearNextOccurrence("Expired")
		return
	}
	r.SetNextOccurrence(next)
}

func statusDisplay(st domain.Status) string {
	switch st {
	case domain.StatusPaused:
		return "Paused"
	case domain.StatusCompleted:
		return "Completed"
	default:
		return ""
	}
}

// Run performs periodic background passes until ctx is cancelled. One pass
// runs immediately on start.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("sync loop stopped")
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	if _, err := e.SyncNow(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Error().Err(err).Msg("sync pass failed")
	}
}

// QueueStats reports the pending queue broken down by operation, flagging
// entries whose retry counter reached the backoff limit.
func (e *Engine) QueueStats() (domain.QueueStats, error) {
	return e.store.QueueStats(e.backoff.attempts())
}
