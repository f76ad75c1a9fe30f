package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, stored as "15:04".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, Errorf(KindValidation, "invalid time format: %q", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, Errorf(KindValidation, "invalid time format: %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, Errorf(KindValidation, "time out of range: %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On places the time of day onto the calendar date of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, d.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Reminder is the central record. The local store owns it; the remote copy is
// best-effort and reconciled by the sync engine.
type Reminder struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	Title       string        `json:"title"`
	Category    string        `json:"category,omitempty"`
	Description string        `json:"description,omitempty"`
	Frequency   FrequencySpec `json:"frequency"`
	TimeOfDay   TimeOfDay     `json:"time_of_day"`
	Status      Status        `json:"status"`

	// NextOccurrence is the display string shown to the user; NextOccurrenceAt
	// is the exact instant the scheduler registers against.
	NextOccurrence   string     `json:"next_occurrence,omitempty"`
	NextOccurrenceAt *time.Time `json:"next_occurrence_at,omitempty"`

	NotificationsEnabled bool `json:"notifications_enabled"`

	// RepeatLimit caps completions for recurring reminders; 0 means infinite.
	RepeatLimit     int `json:"repeat_limit"`
	CompletionCount int `json:"completion_count"`

	// AudioRef is an opaque handle into the audio subsystem. Never
	// interpreted here.
	AudioRef string `json:"audio_ref,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	SnoozedAt       *time.Time `json:"snoozed_at,omitempty"`
}

// UnderRepeatLimit reports whether one more completion may re-arm the
// reminder instead of terminating it.
func (r *Reminder) UnderRepeatLimit() bool {
	return r.RepeatLimit == 0 || r.CompletionCount < r.RepeatLimit
}

// Schedulable reports whether the reminder should hold a live trigger
// registration.
func (r *Reminder) Schedulable() bool {
	return (r.Status == StatusActive || r.Status == StatusSnoozed) && r.NextOccurrenceAt != nil
}

const displayTimeFormat = "02.01.2006 15:04"

// SetNextOccurrence updates both the exact instant and its display string.
func (r *Reminder) SetNextOccurrence(at time.Time) {
	t := at
	r.NextOccurrenceAt = &t
	r.NextOccurrence = at.Format(displayTimeFormat)
}

// ClearNextOccurrence marks the reminder as having no pending trigger and
// sets the display string to the given placeholder ("Paused", "Completed").
func (r *Reminder) ClearNextOccurrence(display string) {
	r.NextOccurrenceAt = nil
	r.NextOccurrence = display
}
