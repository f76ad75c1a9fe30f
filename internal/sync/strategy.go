package sync

import (
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// Strategy decides which side wins when the same reminder differs locally
// and remotely during a sync pass. Conflicts are resolved automatically and
// never surfaced to the user.
type Strategy string

const (
	// UseLocal always keeps the local record.
	UseLocal Strategy = "useLocal"
	// UseRemote always takes the remote record.
	UseRemote Strategy = "useRemote"
	// UseLatest compares update timestamps; local wins exact ties.
	UseLatest Strategy = "useLatest"
	// Merge takes the remote record as base and overlays the
	// locally-authoritative fields.
	Merge Strategy = "merge"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case UseLocal, UseRemote, UseLatest, Merge:
		return Strategy(s), nil
	case "":
		return UseLatest, nil
	}
	return "", domain.Errorf(domain.KindValidation, "unknown conflict strategy %q", s)
}

// Resolve returns the record that should survive the conflict.
func (s Strategy) Resolve(local, remote domain.Reminder) domain.Reminder {
	switch s {
	case UseLocal:
		return local
	case UseRemote:
		return remote
	case Merge:
		return mergeRecords(local, remote)
	default: // UseLatest
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return remote
		}
		return local
	}
}

// mergeRecords starts from the remote record and overlays the fields the
// local device is authoritative for: lifecycle status and completion
// bookkeeping. The allow-list is deliberately small; widening it needs
// product confirmation.
func mergeRecords(local, remote domain.Reminder) domain.Reminder {
	out := remote
	out.Status = local.Status
	out.CompletionCount = local.CompletionCount
	out.LastCompletedAt = local.LastCompletedAt
	out.CompletedAt = local.CompletedAt
	out.SnoozedAt = local.SnoozedAt
	if local.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = local.UpdatedAt
	}
	return out
}
