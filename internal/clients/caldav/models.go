package caldav

import "time"

// Calendar represents a remote calendar collection.
type Calendar struct {
	ID          string // Calendar path/URL
	DisplayName string
	URL         string
}

// RemoteReminder is the wire shape of a reminder on the CalDAV store: one
// VEVENT per reminder, engine-owned fields carried as X- properties so any
// calendar client still renders the event sensibly.
type RemoteReminder struct {
	UID         string // deterministic per (user, reminder), so PUT replays converge
	ReminderID  int64
	UserID      int64
	Title       string
	Description string
	Category    string
	Start       time.Time // next occurrence at push time
	RRule       string    // recurrence rule, e.g. "FREQ=WEEKLY;BYDAY=MO,TH"
	TimeOfDay   string
	Frequency   string // canonical frequency JSON
	Status      string
	Completions int
	RepeatLimit int
	Notify      bool
	AudioRef    string
	UpdatedAt   time.Time
}
