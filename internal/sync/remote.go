package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/clients/caldav"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// RemoteStore is the consumed remote interface: insert/update/delete/select
// keyed by (reminder id, user id), returning typed failures through the
// domain error taxonomy.
type RemoteStore interface {
	Insert(ctx context.Context, r domain.Reminder) error
	Update(ctx context.Context, r domain.Reminder) error
	Delete(ctx context.Context, reminderID, userID int64) error
	Select(ctx context.Context, userID int64) ([]domain.Reminder, error)
}

// CalDAVStore adapts the CalDAV client to the RemoteStore interface.
type CalDAVStore struct {
	client       *caldav.Client
	calendarPath string
}

func NewCalDAVStore(client *caldav.Client, calendarPath string) *CalDAVStore {
	return &CalDAVStore{client: client, calendarPath: calendarPath}
}

// remoteUID derives the deterministic object id. Replaying an intent always
// lands on the same path, which is what makes queue replay idempotent.
func remoteUID(reminderID, userID int64) string {
	return fmt.Sprintf("reminder-%d-%d@rocketreminder", userID, reminderID)
}

func (s *CalDAVStore) Insert(ctx context.Context, r domain.Reminder) error {
	return s.put(ctx, r)
}

func (s *CalDAVStore) Update(ctx context.Context, r domain.Reminder) error {
	return s.put(ctx, r)
}

func (s *CalDAVStore) put(ctx context.Context, r domain.Reminder) error {
	rr, err := toRemote(r)
	if err != nil {
		return err
	}
	return s.client.PutReminder(ctx, s.calendarPath, &rr)
}

func (s *CalDAVStore) Delete(ctx context.Context, reminderID, userID int64) error {
	return s.client.DeleteReminder(ctx, s.calendarPath, remoteUID(reminderID, userID))
}

func (s *CalDAVStore) Select(ctx context.Context, userID int64) ([]domain.Reminder, error) {
	remotes, err := s.client.ListReminders(ctx, s.calendarPath)
	if err != nil {
		return nil, err
	}
	var out []domain.Reminder
	for _, rr := range remotes {
		if rr.UserID != userID {
			continue
		}
		r, err := fromRemote(rr)
		if err != nil {
			continue // foreign or corrupted object; leave it alone
		}
		out = append(out, r)
	}
	return out, nil
}

func toRemote(r domain.Reminder) (caldav.RemoteReminder, error) {
	freq, err := json.Marshal(r.Frequency)
	if err != nil {
		return caldav.RemoteReminder{}, fmt.Errorf("marshal frequency: %w", err)
	}
	rr := caldav.RemoteReminder{
		UID:         remoteUID(r.ID, r.UserID),
		ReminderID:  r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		RRule:       specToRRule(r.Frequency),
		TimeOfDay:   r.TimeOfDay.String(),
		Frequency:   string(freq),
		Status:      string(r.Status),
		Completions: r.CompletionCount,
		RepeatLimit: r.RepeatLimit,
		Notify:      r.NotificationsEnabled,
		AudioRef:    r.AudioRef,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.NextOccurrenceAt != nil {
		rr.Start = *r.NextOccurrenceAt
	}
	return rr, nil
}

func fromRemote(rr caldav.RemoteReminder) (domain.Reminder, error) {
	spec, err := domain.ParseFrequency([]byte(rr.Frequency))
	if err != nil {
		return domain.Reminder{}, err
	}
	tod, err := domain.ParseTimeOfDay(rr.TimeOfDay)
	if err != nil {
		return domain.Reminder{}, err
	}
	r := domain.Reminder{
		ID:                   rr.ReminderID,
		UserID:               rr.UserID,
		Title:                rr.Title,
		Category:             rr.Category,
		Description:          rr.Description,
		Frequency:            spec,
		TimeOfDay:            tod,
		Status:               domain.Status(rr.Status),
		NotificationsEnabled: rr.Notify,
		RepeatLimit:          rr.RepeatLimit,
		CompletionCount:      rr.Completions,
		AudioRef:             rr.AudioRef,
		UpdatedAt:            rr.UpdatedAt,
	}
	start := rr.Start
	if start.IsZero() && rr.RRule != "" {
		if next, ok := nextFromRRule(rr.RRule, time.Now()); ok {
			start = next
		}
	}
	if !start.IsZero() {
		r.NextOccurrenceAt = &start
		r.NextOccurrence = start.Format("02.01.2006 15:04")
	}
	return r, nil
}

var rruleWeekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// specToRRule renders the recurrence in standard iCalendar form so ordinary
// calendar clients display repeats correctly. One-shot reminders carry no
// rule.
func specToRRule(spec domain.FrequencySpec) string {
	opt := rrule.ROption{}
	switch spec.Type {
	case domain.FreqDaily:
		opt.Freq = rrule.DAILY
	case domain.FreqWeekly:
		opt.Freq = rrule.WEEKLY
		days := append([]int(nil), spec.Days...)
		sort.Ints(days)
		for _, d := range days {
			if d >= 1 && d <= 7 {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d-1])
			}
		}
	case domain.FreqMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{spec.DayOfMonth}
	case domain.FreqHourly:
		opt.Freq = rrule.HOURLY
	case domain.FreqMinutely:
		opt.Freq = rrule.MINUTELY
	case domain.FreqCustom:
		switch spec.Unit {
		case domain.UnitMinute:
			opt.Freq = rrule.MINUTELY
		case domain.UnitHour:
			opt.Freq = rrule.HOURLY
		case domain.UnitDay:
			opt.Freq = rrule.DAILY
		case domain.UnitWeek:
			opt.Freq = rrule.WEEKLY
		default:
			return ""
		}
		opt.Interval = spec.Interval
	default:
		return ""
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return ""
	}
	return rule.String()
}

// nextFromRRule is used when reconciling a pulled record that has no usable
// start: it asks the rule itself for the first occurrence after now.
func nextFromRRule(raw string, after time.Time) (time.Time, bool) {
	rule, err := rrule.StrToRRule(raw)
	if err != nil {
		return time.Time{}, false
	}
	next := rule.After(after, false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
