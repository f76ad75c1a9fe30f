// Package storage is the durable local store plus the attached sync queue.
// Every mutation applies locally and records its remote intent in one
// transaction; nothing here ever waits on the network.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

const remindersTable = "reminders"

type Storage struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.migrateLegacyFrequencies(); err != nil {
		return nil, fmt.Errorf("migrate legacy frequencies: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SetNowFunc overrides the clock. Tests only.
func (s *Storage) SetNowFunc(now func() time.Time) { s.now = now }

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			category TEXT DEFAULT '',
			description TEXT DEFAULT '',
			frequency TEXT NOT NULL,
			time_of_day TEXT NOT NULL DEFAULT '09:00',
			status TEXT NOT NULL DEFAULT 'active',
			next_occurrence TEXT DEFAULT '',
			next_occurrence_at DATETIME,
			notifications_enabled INTEGER DEFAULT 1,
			repeat_limit INTEGER DEFAULT 0,
			completion_count INTEGER DEFAULT 0,
			audio_ref TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_completed_at DATETIME,
			completed_at DATETIME,
			snoozed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_user_id ON reminders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_status ON reminders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_next_at ON reminders(next_occurrence_at)`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
			id TEXT PRIMARY KEY,
			reminder_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			op TEXT NOT NULL,
			target_table TEXT NOT NULL,
			payload TEXT NOT NULL,
			enqueued_at DATETIME NOT NULL,
			retry_count INTEGER DEFAULT 0,
			last_error TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_reminder ON sync_queue(reminder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_enqueued ON sync_queue(enqueued_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// migrateLegacyFrequencies rewrites rows still carrying the historical
// frequency payload shape (numeric "id" discriminant, "intervalValue") into
// the canonical one. Runs once per open; already-canonical rows are no-ops.
func (s *Storage) migrateLegacyFrequencies() error {
	rows, err := s.db.Query(`SELECT id, frequency FROM reminders`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type patch struct {
		id  int64
		raw string
	}
	var patches []patch
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		// A row the canonical parser accepts needs no rewrite. Legacy shapes
		// can carry a "type" key too (e.g. custom with "intervalValue"), so
		// candidacy is decided by parsing, not by key presence.
		if _, err := domain.ParseFrequency([]byte(raw)); err == nil {
			continue
		}
		spec, err := domain.ParseFrequencyLegacy([]byte(raw))
		if err != nil {
			// Unparseable rows are left alone; the calculator will reject
			// them loudly instead of guessing.
			continue
		}
		b, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		patches = append(patches, patch{id: id, raw: string(b)})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range patches {
		if _, err := s.db.Exec(`UPDATE reminders SET frequency = ? WHERE id = ?`, p.raw, p.id); err != nil {
			return err
		}
	}
	return nil
}

// === Reminders ===

const reminderColumns = `id, user_id, title, category, description, frequency, time_of_day, status,
	next_occurrence, next_occurrence_at, notifications_enabled, repeat_limit, completion_count,
	audio_ref, created_at, updated_at, last_completed_at, completed_at, snoozed_at`

// CreateReminder inserts the reminder and its insert intent atomically.
func (s *Storage) CreateReminder(r *domain.Reminder) error {
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now

	freq, err := json.Marshal(r.Frequency)
	if err != nil {
		return fmt.Errorf("marshal frequency: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO reminders (user_id, title, category, description, frequency, time_of_day, status,
			next_occurrence, next_occurrence_at, notifications_enabled, repeat_limit, completion_count,
			audio_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Title, r.Category, r.Description, string(freq), r.TimeOfDay.String(), r.Status,
		r.NextOccurrence, r.NextOccurrenceAt, r.NotificationsEnabled, r.RepeatLimit, r.CompletionCount,
		r.AudioRef, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	r.ID = id

	if err := s.enqueue(tx, domain.OpInsert, r); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateReminder persists the full record and its update intent atomically.
func (s *Storage) UpdateReminder(r *domain.Reminder) error {
	r.UpdatedAt = s.now()

	freq, err := json.Marshal(r.Frequency)
	if err != nil {
		return fmt.Errorf("marshal frequency: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE reminders SET title = ?, category = ?, description = ?, frequency = ?, time_of_day = ?,
			status = ?, next_occurrence = ?, next_occurrence_at = ?, notifications_enabled = ?,
			repeat_limit = ?, completion_count = ?, audio_ref = ?, updated_at = ?,
			last_completed_at = ?, completed_at = ?, snoozed_at = ?
		 WHERE id = ?`,
		r.Title, r.Category, r.Description, string(freq), r.TimeOfDay.String(),
		r.Status, r.NextOccurrence, r.NextOccurrenceAt, r.NotificationsEnabled,
		r.RepeatLimit, r.CompletionCount, r.AudioRef, r.UpdatedAt,
		r.LastCompletedAt, r.CompletedAt, r.SnoozedAt,
		r.ID,
	)
	if err != nil {
		return err
	}

	if err := s.enqueue(tx, domain.OpUpdate, r); err != nil {
		return err
	}
	return tx.Commit()
}

// ReactivateSnoozed flips a snoozed reminder back to active once its snooze
// instant has fired. Derived state, no sync intent.
func (s *Storage) ReactivateSnoozed(id int64) error {
	_, err := s.db.Exec(
		`UPDATE reminders SET status = 'active', snoozed_at = NULL WHERE id = ? AND status = 'snoozed'`,
		id,
	)
	return err
}

// UpdateOccurrence advances the scheduled instant after a trigger fires.
// It is derived state, so no sync intent is enqueued and updated_at is left
// alone.
func (s *Storage) UpdateOccurrence(id int64, display string, at *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE reminders SET next_occurrence = ?, next_occurrence_at = ? WHERE id = ?`,
		display, at, id,
	)
	return err
}

// ApplyRemote writes a record resolved during pull reconciliation without
// enqueueing a new intent (the remote side already has it).
func (s *Storage) ApplyRemote(r *domain.Reminder) error {
	freq, err := json.Marshal(r.Frequency)
	if err != nil {
		return fmt.Errorf("marshal frequency: %w", err)
	}
	if r.ID != 0 {
		res, err := s.db.Exec(
			`UPDATE reminders SET title = ?, category = ?, description = ?, frequency = ?, time_of_day = ?,
				status = ?, next_occurrence = ?, next_occurrence_at = ?, notifications_enabled = ?,
				repeat_limit = ?, completion_count = ?, audio_ref = ?, updated_at = ?, last_completed_at = ?
			 WHERE id = ?`,
			r.Title, r.Category, r.Description, string(freq), r.TimeOfDay.String(),
			r.Status, r.NextOccurrence, r.NextOccurrenceAt, r.NotificationsEnabled,
			r.RepeatLimit, r.CompletionCount, r.AudioRef, r.UpdatedAt, r.LastCompletedAt,
			r.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		// No such row yet: adopt the remote record under its original id.
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := s.db.Exec(
		`INSERT INTO reminders (id, user_id, title, category, description, frequency, time_of_day, status,
			next_occurrence, next_occurrence_at, notifications_enabled, repeat_limit, completion_count,
			audio_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(r.ID), r.UserID, r.Title, r.Category, r.Description, string(freq), r.TimeOfDay.String(), r.Status,
		r.NextOccurrence, r.NextOccurrenceAt, r.NotificationsEnabled, r.RepeatLimit, r.CompletionCount,
		r.AudioRef, createdAt, r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if r.ID == 0 {
		id, _ := res.LastInsertId()
		r.ID = id
	}
	return nil
}

// nullInt64 maps a zero id to NULL so AUTOINCREMENT assigns one.
func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// DeleteReminder removes the row, collapses the id's queue history, and
// records a single delete intent, all atomically.
func (s *Storage) DeleteReminder(id int64) error {
	r, err := s.GetReminder(id)
	if err != nil {
		return err
	}
	if r == nil {
		return domain.Errorf(domain.KindNotFound, "reminder %d not found", id)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reminders WHERE id = ?`, id); err != nil {
		return err
	}
	if err := s.enqueue(tx, domain.OpDelete, r); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) GetReminder(id int64) (*domain.Reminder, error) {
	row := s.db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListReminders reads from the local store only; remote reachability never
// blocks it.
func (s *Storage) ListReminders(userID int64) ([]*domain.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY next_occurrence_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ListSchedulable returns every reminder that should hold a live trigger.
func (s *Storage) ListSchedulable() ([]*domain.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT ` + reminderColumns + ` FROM reminders
		 WHERE status IN ('active', 'snoozed') AND next_occurrence_at IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ListDue returns schedulable reminders whose instant is at or before now.
func (s *Storage) ListDue(now time.Time) ([]*domain.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE status IN ('active', 'snoozed') AND next_occurrence_at IS NOT NULL AND next_occurrence_at <= ?`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	r := &domain.Reminder{}
	var freq, timeOfDay string
	err := row.Scan(
		&r.ID, &r.UserID, &r.Title, &r.Category, &r.Description, &freq, &timeOfDay, &r.Status,
		&r.NextOccurrence, &r.NextOccurrenceAt, &r.NotificationsEnabled, &r.RepeatLimit, &r.CompletionCount,
		&r.AudioRef, &r.CreatedAt, &r.UpdatedAt, &r.LastCompletedAt, &r.CompletedAt, &r.SnoozedAt,
	)
	if err != nil {
		return nil, err
	}
	spec, err := domain.ParseFrequency([]byte(freq))
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	r.Frequency = spec
	tod, err := domain.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	r.TimeOfDay = tod
	return r, nil
}

func collectReminders(rows *sql.Rows) ([]*domain.Reminder, error) {
	var out []*domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// === Sync queue ===

// enqueue appends one intent inside the caller's transaction. Any earlier
// unflushed entry for the same reminder is superseded: latest intent wins,
// and a delete collapses everything before it.
func (s *Storage) enqueue(tx *sql.Tx, op domain.SyncOp, r *domain.Reminder) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE reminder_id = ?`, r.ID); err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO sync_queue (id, reminder_id, user_id, op, target_table, payload, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.ID, r.UserID, op, remindersTable, string(payload), s.now(),
	)
	return err
}

// ListQueue returns pending entries oldest first.
func (s *Storage) ListQueue(limit int) ([]*domain.SyncQueueEntry, error) {
	q := `SELECT id, reminder_id, user_id, op, target_table, payload, enqueued_at, retry_count, last_error
		FROM sync_queue ORDER BY enqueued_at ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SyncQueueEntry
	for rows.Next() {
		e := &domain.SyncQueueEntry{}
		var payload string
		if err := rows.Scan(&e.ID, &e.ReminderID, &e.UserID, &e.Op, &e.Table, &payload, &e.EnqueuedAt, &e.RetryCount, &e.LastError); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AckQueueEntry removes an entry after the remote store confirmed it.
func (s *Storage) AckQueueEntry(id string) error {
	_, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// BumpQueueRetry records a failed attempt and keeps the entry for the next
// pass.
func (s *Storage) BumpQueueRetry(id string, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ?`,
		lastError, id,
	)
	return err
}

// HasPendingIntent reports whether an unflushed entry exists for the
// reminder. Pull reconciliation must not overwrite such rows.
func (s *Storage) HasPendingIntent(reminderID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE reminder_id = ?`, reminderID).Scan(&count)
	return count > 0, err
}

// QueueStats summarizes the pending backlog. failedAfter is the retry count
// at which an entry counts as failed.
func (s *Storage) QueueStats(failedAfter int) (domain.QueueStats, error) {
	stats := domain.QueueStats{}

	rows, err := s.db.Query(`SELECT op, COUNT(*) FROM sync_queue GROUP BY op`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var op domain.SyncOp
		var n int
		if err := rows.Scan(&op, &n); err != nil {
			return stats, err
		}
		switch op {
		case domain.OpInsert:
			stats.Inserts = n
		case domain.OpUpdate:
			stats.Updates = n
		case domain.OpDelete:
			stats.Deletes = n
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	// MIN() erases the column's DATETIME affinity and the driver hands back
	// a string, so read the oldest row through the typed column instead.
	var oldest time.Time
	err = s.db.QueryRow(`SELECT enqueued_at FROM sync_queue ORDER BY enqueued_at ASC LIMIT 1`).Scan(&oldest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// empty queue
	case err != nil:
		return stats, err
	default:
		stats.OldestPending = s.now().Sub(oldest)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE retry_count >= ?`, failedAfter).Scan(&stats.Failed); err != nil {
		return stats, err
	}
	return stats, nil
}
