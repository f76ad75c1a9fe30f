package schedule

import (
	"time"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// MinLead is the shortest allowed distance between now and a registered
// trigger time.
const MinLead = time.Minute

// ValidateScheduleTime enforces the minimum lead time: candidates closer than
// now+MinLead are pushed out to exactly now+MinLead, everything else passes
// through unchanged.
func ValidateScheduleTime(candidate, now time.Time) time.Time {
	floor := now.Truncate(time.Second).Add(MinLead)
	if candidate.Before(floor) {
		return floor
	}
	return candidate
}

// AdjustForTimeConflicts resolves a candidate that has already slipped into
// the past. A candidate on today's calendar date rolls forward by exactly one
// day, preserving the "same time, next day" intent; anything else falls back
// to the minimum-lead rule.
func AdjustForTimeConflicts(candidate, now time.Time) time.Time {
	if candidate.Before(now) && sameDay(candidate, now) {
		return candidate.AddDate(0, 0, 1)
	}
	return ValidateScheduleTime(candidate, now)
}

// CalculatePreciseScheduleTime returns now+offset for offset-based specs,
// bypassing calendar rollover so the requested delay is honored exactly.
// ok is false for calendar-based specs.
func CalculatePreciseScheduleTime(spec domain.FrequencySpec, now time.Time) (at time.Time, ok bool) {
	if !spec.IsOffset() {
		return time.Time{}, false
	}
	return now.Truncate(time.Second).Add(spec.Offset()), true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
