package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testReminder(userID int64) *domain.Reminder {
	at := time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC)
	r := &domain.Reminder{
		UserID:               userID,
		Title:                "Morning dhikr",
		Category:             "spiritual",
		Frequency:            domain.FrequencySpec{Type: domain.FreqDaily},
		TimeOfDay:            domain.TimeOfDay{Hour: 9, Minute: 30},
		Status:               domain.StatusActive,
		NotificationsEnabled: true,
		AudioRef:             "audio-17",
	}
	r.SetNextOccurrence(at)
	return r
}

func TestCreateReadRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	r := testReminder(1)
	if err := s.CreateReminder(r); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if r.ID == 0 {
		t.Fatal("id not assigned")
	}

	got, err := s.GetReminder(r.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got == nil {
		t.Fatal("reminder not found")
	}
	if got.Title != r.Title || got.Category != r.Category || got.AudioRef != r.AudioRef {
		t.Fatalf("fields lost: %+v", got)
	}
	if got.Frequency.Type != domain.FreqDaily {
		t.Fatalf("frequency = %+v", got.Frequency)
	}
	if got.TimeOfDay.String() != "09:30" {
		t.Fatalf("time of day = %s", got.TimeOfDay)
	}
	if got.NextOccurrenceAt == nil || !got.NextOccurrenceAt.Equal(*r.NextOccurrenceAt) {
		t.Fatalf("next occurrence = %v", got.NextOccurrenceAt)
	}
}

func TestMutationsEnqueueIntent(t *testing.T) {
	s := newTestStorage(t)

	r := testReminder(1)
	if err := s.CreateReminder(r); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ListQueue(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Op != domain.OpInsert {
		t.Fatalf("queue after create: %+v", entries)
	}

	snap, err := entries[0].Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Title != r.Title || snap.ID != r.ID {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}

	// An update supersedes the earlier insert: latest intent wins.
	r.Title = "Evening dhikr"
	if err := s.UpdateReminder(r); err != nil {
		t.Fatal(err)
	}
	entries, err = s.ListQueue(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Op != domain.OpUpdate {
		t.Fatalf("queue after update: %+v", entries)
	}

	// A delete collapses everything before it.
	if err := s.DeleteReminder(r.ID); err != nil {
		t.Fatal(err)
	}
	entries, err = s.ListQueue(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Op != domain.OpDelete {
		t.Fatalf("queue after delete: %+v", entries)
	}

	if got, _ := s.GetReminder(r.ID); got != nil {
		t.Fatal("reminder still present after delete")
	}
}

func TestQueueStats(t *testing.T) {
	s := newTestStorage(t)
	base := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	clock := base
	s.SetNowFunc(func() time.Time { return clock })

	empty, err := s.QueueStats(3)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Total() != 0 || empty.OldestPending != 0 {
		t.Fatalf("empty queue stats = %+v", empty)
	}

	a := testReminder(1)
	if err := s.CreateReminder(a); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(5 * time.Minute)
	b := testReminder(1)
	b.Title = "Second"
	if err := s.CreateReminder(b); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ListQueue(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if err := s.BumpQueueRetry(entries[0].ID, "network: connection refused"); err != nil {
		t.Fatal(err)
	}
	if err := s.BumpQueueRetry(entries[0].ID, "network: connection refused"); err != nil {
		t.Fatal(err)
	}
	if err := s.BumpQueueRetry(entries[0].ID, "network: connection refused"); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(5 * time.Minute)
	stats, err := s.QueueStats(3)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserts != 2 || stats.Updates != 0 || stats.Deletes != 0 {
		t.Fatalf("counts = %+v", stats)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	if stats.OldestPending < 9*time.Minute {
		t.Fatalf("oldest pending = %v, want >= 10m (minus rounding)", stats.OldestPending)
	}
	if stats.Total() != 2 {
		t.Fatalf("total = %d", stats.Total())
	}
}

func TestHasPendingIntent(t *testing.T) {
	s := newTestStorage(t)
	r := testReminder(1)
	if err := s.CreateReminder(r); err != nil {
		t.Fatal(err)
	}
	ok, err := s.HasPendingIntent(r.ID)
	if err != nil || !ok {
		t.Fatalf("HasPendingIntent = %v, %v", ok, err)
	}

	entries, _ := s.ListQueue(0)
	if err := s.AckQueueEntry(entries[0].ID); err != nil {
		t.Fatal(err)
	}
	ok, err = s.HasPendingIntent(r.ID)
	if err != nil || ok {
		t.Fatalf("after ack HasPendingIntent = %v, %v", ok, err)
	}
}

func TestLegacyFrequencyMigration(t *testing.T) {
	s := newTestStorage(t)

	// Rows written by old builds: a numeric discriminant, and the hybrid
	// shape that already carries "type" but keys the interval as
	// "intervalValue". A canonical row sits alongside and must come through
	// untouched.
	seed := []struct {
		title string
		raw   string
	}{
		{title: "NumericID", raw: `{"id":6,"intervalValue":5,"unit":"minute"}`},
		{title: "TypedLegacy", raw: `{"type":"custom","intervalValue":5,"unit":"minute"}`},
		{title: "Canonical", raw: `{"type":"custom","interval":5,"unit":"minute"}`},
	}
	for _, row := range seed {
		_, err := s.db.Exec(
			`INSERT INTO reminders (user_id, title, frequency, time_of_day, status) VALUES (1, ?, ?, '10:00', 'active')`,
			row.title, row.raw,
		)
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := s.migrateLegacyFrequencies(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rows, err := s.ListReminders(1)
	if err != nil {
		t.Fatalf("ListReminders after migration: %v", err)
	}
	if len(rows) != len(seed) {
		t.Fatalf("expected %d rows, got %d", len(seed), len(rows))
	}
	for _, r := range rows {
		f := r.Frequency
		if f.Type != domain.FreqCustom || f.Interval != 5 || f.Unit != domain.UnitMinute {
			t.Errorf("%s: migrated spec = %+v", r.Title, f)
		}
	}
}

func TestListDueAndSchedulable(t *testing.T) {
	s := newTestStorage(t)
	now := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

	due := testReminder(1)
	due.SetNextOccurrence(now.Add(-time.Minute))
	if err := s.CreateReminder(due); err != nil {
		t.Fatal(err)
	}

	future := testReminder(1)
	future.Title = "Later"
	future.SetNextOccurrence(now.Add(time.Hour))
	if err := s.CreateReminder(future); err != nil {
		t.Fatal(err)
	}

	paused := testReminder(1)
	paused.Title = "Paused"
	paused.Status = domain.StatusPaused
	paused.ClearNextOccurrence("Paused")
	if err := s.CreateReminder(paused); err != nil {
		t.Fatal(err)
	}

	sched, err := s.ListSchedulable()
	if err != nil {
		t.Fatal(err)
	}
	if len(sched) != 2 {
		t.Fatalf("schedulable = %d, want 2", len(sched))
	}

	dueRows, err := s.ListDue(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(dueRows) != 1 || dueRows[0].ID != due.ID {
		t.Fatalf("due rows = %+v", dueRows)
	}
}
