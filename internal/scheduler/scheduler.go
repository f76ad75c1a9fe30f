package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/notify"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/storage"
	syncx "github.com/islamwell/rcoket-reminder-fork-sub001/internal/sync"
)

// AppState is the host process lifecycle as seen by the scheduler.
type AppState string

const (
	StateForeground AppState = "foreground"
	StateBackground AppState = "background"
)

// FireHandler reacts to a trigger firing: deliver the notification and
// advance the reminder. Wired after construction, like the message sender
// in a bot setup, because the service layer also calls back into the
// scheduler.
type FireHandler func(ctx context.Context, reminderID int64, action notify.Action)

// Scheduler keeps one live trigger per schedulable reminder. When exact-time
// registration is denied by the host it degrades to a minute-tick poll over
// due reminders.
type Scheduler struct {
	store     *storage.Storage
	registrar Registrar
	backoff   syncx.Backoff
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	handler  FireHandler
	poller   *cron.Cron
	degraded bool
}

func New(store *storage.Storage, registrar Registrar, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		registrar: registrar,
		backoff:   syncx.Backoff{Base: 100 * time.Millisecond, MaxAttempts: 3},
		log:       log.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// SetFireHandler must be called before any trigger can fire.
func (s *Scheduler) SetFireHandler(h FireHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// SetNowFunc replaces the clock, used in tests.
func (s *Scheduler) SetNowFunc(now func() time.Time) { s.now = now }

// Fire routes a trigger through the registered handler.
func (s *Scheduler) Fire(p notify.Payload) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		s.log.Warn().Int64("reminder", p.ReminderID).Msg("trigger fired before handler was set")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	handler(ctx, p.ReminderID, p.Action)
}

// ScheduleAllActive registers a trigger for every schedulable reminder.
// Called at startup and when returning to the foreground.
func (s *Scheduler) ScheduleAllActive() error {
	reminders, err := s.store.ListSchedulable()
	if err != nil {
		return err
	}
	for _, r := range reminders {
		if err := s.schedule(r); err != nil {
			return err
		}
	}
	s.log.Info().Int("count", len(reminders)).Msg("triggers registered")
	return nil
}

// Reschedule refreshes the single trigger for one reminder. A reminder that
// is no longer schedulable has its trigger cancelled instead. Calling this
// twice for the same state is harmless.
func (s *Scheduler) Reschedule(id int64) error {
	r, err := s.store.GetReminder(id)
	if err != nil {
		return err
	}
	if r == nil || !r.Schedulable() || !r.NotificationsEnabled {
		s.registrar.Cancel(id)
		return nil
	}
	return s.schedule(r)
}

func (s *Scheduler) schedule(r *domain.Reminder) error {
	p := notify.Payload{
		ReminderID: r.ID,
		UserID:     r.UserID,
		Title:      r.Title,
		Category:   r.Category,
		AudioRef:   r.AudioRef,
		Action:     notify.ActionFire,
	}
	var err error
	for attempt := 1; attempt <= s.backoff.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.backoff.Delay(attempt - 1))
		}
		err = s.registrar.Schedule(r.ID, *r.NextOccurrenceAt, p)
		if err == nil {
			return nil
		}
		if domain.KindOf(err) == domain.KindPermission {
			s.log.Warn().Err(err).Msg("exact triggers denied, falling back to polling")
			s.startPolling()
			return nil
		}
		if !domain.Retryable(err) {
			return err
		}
	}
	return err
}

// Cancel drops the trigger for one reminder.
func (s *Scheduler) Cancel(id int64) {
	s.registrar.Cancel(id)
}

// CancelAll drops every trigger, used on shutdown and sign-out.
func (s *Scheduler) CancelAll() {
	s.registrar.CancelAll()
}

// HandleAppStateChange reconciles triggers with the host lifecycle. Going
// to the background re-registers everything so each active reminder keeps a
// live trigger while the process sleeps. Coming back to the foreground does
// the same, but first fires catch-ups for occurrences that passed while
// asleep.
func (s *Scheduler) HandleAppStateChange(ctx context.Context, state AppState) error {
	if state == StateBackground {
		return s.ScheduleAllActive()
	}
	due, err := s.store.ListDue(s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	for _, r := range due {
		if handler == nil {
			break
		}
		handler(ctx, r.ID, notify.ActionOverdue)
	}
	return s.ScheduleAllActive()
}

// startPolling switches to the degraded minute-tick mode. Idempotent.
func (s *Scheduler) startPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return
	}
	s.degraded = true
	s.poller = cron.New()
	s.poller.AddFunc("* * * * *", s.pollDue)
	s.poller.Start()
}

// pollDue fires every reminder whose occurrence has passed. The handler
// advances each reminder, so the next tick does not see it again.
func (s *Scheduler) pollDue() {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}
	due, err := s.store.ListDue(s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("due reminders lookup failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, r := range due {
		handler(ctx, r.ID, notify.ActionFire)
	}
}

// Stop halts the degraded poller and drops all triggers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	poller := s.poller
	s.poller = nil
	s.degraded = false
	s.mu.Unlock()
	if poller != nil {
		<-poller.Stop().Done()
	}
	s.registrar.CancelAll()
}

// Degraded reports whether the scheduler fell back to polling.
func (s *Scheduler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}
