package domain

import (
	"encoding/json"
	"time"
)

// SyncOp is the remote intent recorded in a queue entry.
type SyncOp string

const (
	OpInsert SyncOp = "insert"
	OpUpdate SyncOp = "update"
	OpDelete SyncOp = "delete"
)

// SyncQueueEntry is one not-yet-acknowledged remote intent. Entries are
// durable: a crash mid-sync leaves them in place, and they are removed only
// after the remote store confirms the operation.
type SyncQueueEntry struct {
	ID         string          `json:"id"`
	ReminderID int64           `json:"reminder_id"`
	UserID     int64           `json:"user_id"`
	Op         SyncOp          `json:"op"`
	Table      string          `json:"table"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// Snapshot decodes the reminder state captured when the entry was enqueued.
func (e *SyncQueueEntry) Snapshot() (Reminder, error) {
	var r Reminder
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return Reminder{}, Errorf(KindValidation, "decode queue payload: %v", err)
	}
	return r, nil
}

// QueueStats is the introspection view over pending entries.
type QueueStats struct {
	Inserts       int
	Updates       int
	Deletes       int
	OldestPending time.Duration
	Failed        int
}

// Total is the number of pending entries across all operations.
func (s QueueStats) Total() int { return s.Inserts + s.Updates + s.Deletes }
