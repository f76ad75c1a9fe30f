package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/notify"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/schedule"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/scheduler"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/storage"
)

// DefaultSnooze is applied when a snooze request carries no duration.
const DefaultSnooze = 10 * time.Minute

// ReminderService owns the reminder lifecycle. Every mutation goes through
// the local store first and refreshes the reminder's trigger; the sync
// engine picks the intent up from the queue later.
type ReminderService struct {
	storage   *storage.Storage
	scheduler *scheduler.Scheduler
	delivery  notify.Delivery
	timezone  *time.Location
	log       zerolog.Logger
	now       func() time.Time
}

func NewReminderService(s *storage.Storage, sched *scheduler.Scheduler, delivery notify.Delivery, tz *time.Location, log zerolog.Logger) *ReminderService {
	if tz == nil {
		tz = time.Local
	}
	return &ReminderService{
		storage:   s,
		scheduler: sched,
		delivery:  delivery,
		timezone:  tz,
		log:       log.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

// SetNowFunc replaces the clock, used in tests.
func (s *ReminderService) SetNowFunc(now func() time.Time) { s.now = now }

// CreateParams carries everything needed to create a reminder.
type CreateParams struct {
	Title                string
	Category             string
	Description          string
	Frequency            domain.FrequencySpec
	TimeOfDay            domain.TimeOfDay
	RepeatLimit          int
	AudioRef             string
	NotificationsEnabled bool
}

func (s *ReminderService) Create(userID int64, p CreateParams) (*domain.Reminder, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, domain.Errorf(domain.KindValidation, "reminder title cannot be empty")
	}
	if err := p.Frequency.Validate(); err != nil {
		return nil, err
	}

	now := s.now().In(s.timezone)
	next, err := schedule.NextInstant(p.Frequency, p.TimeOfDay, now)
	if err != nil {
		return nil, err
	}

	r := &domain.Reminder{
		UserID:               userID,
		Title:                title,
		Category:             p.Category,
		Description:          p.Description,
		Frequency:            p.Frequency,
		TimeOfDay:            p.TimeOfDay,
		Status:               domain.StatusActive,
		RepeatLimit:          p.RepeatLimit,
		AudioRef:             p.AudioRef,
		NotificationsEnabled: p.NotificationsEnabled,
	}
	r.SetNextOccurrence(next)

	if err := s.storage.CreateReminder(r); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	if err := s.scheduler.Reschedule(r.ID); err != nil {
		s.log.Error().Err(err).Int64("reminder", r.ID).Msg("trigger registration failed")
	}
	s.log.Info().Int64("reminder", r.ID).Str("next", r.NextOccurrence).Msg("reminder created")
	return r, nil
}

// UpdateParams replaces the editable fields of a reminder wholesale.
type UpdateParams struct {
	Title                string
	Category             string
	Description          string
	Frequency            domain.FrequencySpec
	TimeOfDay            domain.TimeOfDay
	RepeatLimit          int
	AudioRef             string
	NotificationsEnabled bool
}

func (s *ReminderService) Update(reminderID, userID int64, p UpdateParams) (*domain.Reminder, error) {
	r, err := s.owned(reminderID, userID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, domain.Errorf(domain.KindValidation, "reminder title cannot be empty")
	}
	if err := p.Frequency.Validate(); err != nil {
		return nil, err
	}

	r.Title = title
	r.Category = p.Category
	r.Description = p.Description
	r.Frequency = p.Frequency
	r.TimeOfDay = p.TimeOfDay
	r.RepeatLimit = p.RepeatLimit
	r.AudioRef = p.AudioRef
	r.NotificationsEnabled = p.NotificationsEnabled

	if r.Status == domain.StatusActive {
		now := s.now().In(s.timezone)
		next, err := schedule.NextInstant(r.Frequency, r.TimeOfDay, now)
		if err != nil {
			return nil, err
		}
		r.SetNextOccurrence(next)
	}

	if err := s.storage.UpdateReminder(r); err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if err := s.scheduler.Reschedule(r.ID); err != nil {
		s.log.Error().Err(err).Int64("reminder", r.ID).Msg("trigger registration failed")
	}
	return r, nil
}

// Pause suspends firing. The occurrence is cleared rather than kept stale:
// resuming computes a fresh one.
func (s *ReminderService) Pause(reminderID, userID int64) (*domain.Reminder, error) {
	r, err := s.owned(reminderID, userID)
	if err != nil {
		return nil, err
	}
	next, err := domain.Transition(r.Status, domain.StatusPaused)
	if err != nil {
		return nil, err
	}
	r.Status = next
	r.ClearNextOccurrence("Paused")
	if err := s.storage.UpdateReminder(r); err != nil {
		return nil, fmt.Errorf("pause reminder: %w", err)
	}
	s.scheduler.Cancel(r.ID)
	return r, nil
}

// Resume reactivates a paused reminder with a freshly computed occurrence,
// never the one that was current when it was paused.
func (s *ReminderService) Resume(reminderID, userID int64) (*domain.Reminder, error) {
	r, err := s.owned(reminderID, userID)
	if err != nil {
		return nil, err
	}
	status, err := domain.Transition(r.Status, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	now := s.now().In(s.timezone)
	next, err := schedule.NextInstant(r.Frequency, r.TimeOfDay, now)
	if err != nil {
		return nil, err
	}
	r.Status = status
	r.SnoozedAt = nil
	r.SetNextOccurrence(next)
	if err := s.storage.UpdateReminder(r); err != nil {
		return nil, fmt.Errorf("resume reminder: %w", err)
	}
	if err := s.scheduler.Reschedule(r.ID); err != nil {
		s.log.Error().Err(err).Int64("reminder", r.ID).Msg("trigger registration failed")
	}
	return r, nil
}

// Snooze pushes the next occurrence forward by d, or DefaultSnooze when d is
// not positive.
func (s *ReminderService) Snooze(reminderID, userID int64, d time.Duration) (*domain.Reminder, error) {
	r, err := s.owned(reminderID, userID)
	if err != nil {
		return nil, err
	}
	status, err := domain.Transition(r.Status, domain.StatusSnoozed)
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		d = DefaultSnooze
	}
	now := s.now().In(s.timezone)
	r.Status = status
	snoozedAt := now
	r.SnoozedAt = &snoozedAt
	r.SetNextOccurrence(schedule.ValidateScheduleTime(now.Add(d), now))
	if err := s.storage.UpdateReminder(r); err != nil {
		return nil, fmt.Errorf("snooze reminder: %w", err)
	}
	if err := s.scheduler.Reschedule(r.ID); err != nil {
		s.log.Error().Err(err).Int64("reminder", r.ID).Msg("trigger registration failed")
	}
	return r, nil
}

// Complete records a completion. A recurring reminder under its repeat limit
// re-arms with the next occurrence; anything else lands terminally in
// completed state.
func (s *ReminderService) Complete(reminderID, userID int64) (*domain.Reminder, error) {
	r, err := s.owned(reminderID, userID)
	if err != nil {
		return nil, err
	}
	if !r.Status.CanTransitionTo(domain.StatusCompleted) {
		return nil, domain.Errorf(domain.KindValidation, "cannot complete reminder in status %q", r.Status)
	}

	now := s.now().In(s.timezone)
	r.CompletionCount++
	completedAt := now
	r.LastCompletedAt = &completedAt
	r.SnoozedAt = nil

	if r.Frequency.IsRecurring() && r.UnderRepeatLimit() {
		next, err := schedule.NextInstant(r.Frequency, r.TimeOfDay, now)
		if err != nil {
			return nil, err
		}
		r.Status = domain.StatusActive
		r.SetNextOccurrence(next)
	} else {
		r.Status = domain.StatusCompleted
		r.CompletedAt = &completedAt
		r.ClearNextOccurrence("Completed")
	}

	if err := s.storage.UpdateReminder(r); err != nil {
		return nil, fmt.Errorf("complete reminder: %w", err)
	}
	if err := s.scheduler.Reschedule(r.ID); err != nil {
		s.log.Error().Err(err).Int64("reminder", r.ID).Msg("trigger registration failed")
	}
	return r, nil
}

// Reactivate brings a completed reminder back, provided its repeat limit
// still has room.
func (s *ReminderService) Reactivate(reminderID, userID int64) (*domain.Reminder, error) {
	r, err := s.owned(reminderID, userID)
	if err != nil {
		return nil, err
	}
	if !r.UnderRepeatLimit() {
		return nil, domain.Errorf(domain.KindValidation, "repeat limit reached")
	}
	return s.Resume(reminderID, userID)
}

func (s *ReminderService) Delete(reminderID, userID int64) error {
	r, err := s.owned(reminderID, userID)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteReminder(r.ID); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	s.scheduler.Cancel(r.ID)
	return nil
}

func (s *ReminderService) List(userID int64) ([]*domain.Reminder, error) {
	return s.storage.ListReminders(userID)
}

func (s *ReminderService) Get(reminderID, userID int64) (*domain.Reminder, error) {
	return s.owned(reminderID, userID)
}

func (s *ReminderService) owned(reminderID, userID int64) (*domain.Reminder, error) {
	r, err := s.storage.GetReminder(reminderID)
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	if r == nil {
		return nil, domain.Errorf(domain.KindNotFound, "reminder %d not found", reminderID)
	}
	if r.UserID != userID {
		return nil, domain.Errorf(domain.KindPermission, "reminder %d belongs to another user", reminderID)
	}
	return r, nil
}

// HandleFire delivers the notification for a fired trigger and advances the
// reminder to its next occurrence. Wired into the scheduler at startup.
func (s *ReminderService) HandleFire(ctx context.Context, reminderID int64, action notify.Action) {
	r, err := s.storage.GetReminder(reminderID)
	if err != nil {
		s.log.Error().Err(err).Int64("reminder", reminderID).Msg("fired reminder lookup failed")
		return
	}
	if r == nil || !r.Schedulable() {
		return
	}
	if r.NotificationsEnabled && s.delivery != nil {
		p := notify.Payload{
			ReminderID: r.ID,
			UserID:     r.UserID,
			Title:      r.Title,
			Category:   r.Category,
			AudioRef:   r.AudioRef,
			Action:     action,
		}
		if err := s.delivery.Deliver(ctx, p); err != nil {
			s.log.Error().Err(err).Int64("reminder", r.ID).Msg("notification delivery failed")
		}
	}
	// A snooze ends the moment it fires.
	if r.Status == domain.StatusSnoozed {
		if err := s.storage.ReactivateSnoozed(r.ID); err != nil {
			s.log.Error().Err(err).Int64("reminder", r.ID).Msg("snooze reactivation failed")
			return
		}
		r.Status = domain.StatusActive
		r.SnoozedAt = nil
	}
	s.advance(r)
}

// advance moves a fired reminder to its next occurrence without enqueueing a
// sync intent: the schedule itself did not change, only the derived instant.
func (s *ReminderService) advance(r *domain.Reminder) {
	// Advance from the fired instant, not the wall clock, so a trigger that
	// fires early can never land on the same occurrence again.
	from := s.now().In(s.timezone)
	if r.NextOccurrenceAt != nil && r.NextOccurrenceAt.After(from) {
		from = r.NextOccurrenceAt.In(s.timezone)
	}
	if r.Frequency.IsRecurring() {
		next, err := schedule.NextInstant(r.Frequency, r.TimeOfDay, from)
		if err != nil {
			s.log.Error().Err(err).Int64("reminder", r.ID).Msg("occurrence recompute failed")
			return
		}
		r.SetNextOccurrence(next)
		if err := s.storage.UpdateOccurrence(r.ID, r.NextOccurrence, r.NextOccurrenceAt); err != nil {
			s.log.Error().Err(err).Int64("reminder", r.ID).Msg("occurrence update failed")
			return
		}
		if err := s.scheduler.Reschedule(r.ID); err != nil {
			s.log.Error().Err(err).Int64("reminder", r.ID).Msg("trigger registration failed")
		}
		return
	}
	// One-shot: the instant has passed, there is nothing left to schedule.
	// Completion stays a user action.
	if err := s.storage.UpdateOccurrence(r.ID, "", nil); err != nil {
		s.log.Error().Err(err).Int64("reminder", r.ID).Msg("occurrence clear failed")
	}
	s.scheduler.Cancel(r.ID)
}

// FormatReminderList renders reminders for chat output, one line each.
func (s *ReminderService) FormatReminderList(reminders []*domain.Reminder) string {
	if len(reminders) == 0 {
		return "No reminders"
	}
	var sb strings.Builder
	for _, r := range reminders {
		icon := "🔔"
		switch r.Status {
		case domain.StatusPaused:
			icon = "🔕"
		case domain.StatusSnoozed:
			icon = "💤"
		case domain.StatusCompleted:
			icon = "✅"
		}
		nextStr := "—"
		if r.NextOccurrenceAt != nil {
			nextStr = r.NextOccurrenceAt.In(s.timezone).Format("02.01.06 15:04")
		} else if r.NextOccurrence != "" {
			nextStr = r.NextOccurrence
		}
		sb.WriteString(fmt.Sprintf("%s #%d %s, %s (next: %s)\n", icon, r.ID, r.Title, r.Frequency.Describe(), nextStr))
	}
	return sb.String()
}
