// Package schedule turns a frequency spec into the next concrete instant a
// reminder should fire. Calendar-based variants use wall-clock arithmetic so
// a reminder set for local 9:00 still fires at local 9:00 across a DST shift.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// Buffer is the minimum lead time between now and any computed occurrence.
const Buffer = time.Minute

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextInstant computes the first instant strictly after now+Buffer at which
// the spec fires. now is floored to the second, so equal inputs always give
// equal outputs. Validation failures (unknown variant, a one-shot date in the
// past) come back as KindValidation errors and are never retried.
func NextInstant(spec domain.FrequencySpec, tod domain.TimeOfDay, now time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, err
	}
	now = now.Truncate(time.Second)
	horizon := now.Add(Buffer)

	switch spec.Type {
	case domain.FreqOnce:
		d, err := time.ParseInLocation("2006-01-02", spec.Date, now.Location())
		if err != nil {
			return time.Time{}, domain.Errorf(domain.KindValidation, "once: invalid date %q", spec.Date)
		}
		candidate := tod.On(d)
		if !candidate.After(horizon) {
			return time.Time{}, domain.Errorf(domain.KindValidation, "scheduled time %s is in the past", candidate.Format("2006-01-02 15:04"))
		}
		return candidate, nil

	case domain.FreqDaily:
		return nextFromCron(fmt.Sprintf("%d %d * * *", tod.Minute, tod.Hour), horizon)

	case domain.FreqWeekly:
		return nextFromCron(fmt.Sprintf("%d %d * * %s", tod.Minute, tod.Hour, cronDays(spec.Days)), horizon)

	case domain.FreqMonthly:
		candidate := monthlyCandidate(now.Year(), now.Month(), spec.DayOfMonth, tod, now.Location())
		for m := now.Month() + 1; !candidate.After(horizon); m++ {
			// Advance one month and re-clamp against that month's length.
			candidate = monthlyCandidate(now.Year(), m, spec.DayOfMonth, tod, now.Location())
		}
		return candidate, nil

	case domain.FreqHourly:
		return nextFromCron("0 * * * *", horizon)

	case domain.FreqMinutely, domain.FreqCustom:
		// Direct offset, never recalculated against calendar boundaries:
		// "2 minutes from now" is exactly now+2m.
		return now.Add(spec.Offset()), nil
	}

	return time.Time{}, domain.Errorf(domain.KindValidation, "unknown frequency type %q", spec.Type)
}

// nextFromCron delegates wall-clock stepping to the cron schedule, which
// returns the first activation strictly after the horizon.
func nextFromCron(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, domain.Errorf(domain.KindValidation, "parse schedule %q: %v", expr, err)
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, domain.Errorf(domain.KindValidation, "schedule %q has no future activation", expr)
	}
	return next, nil
}

// cronDays converts ISO weekdays (Mon=1..Sun=7) to a cron day-of-week list
// (Sun=0..Sat=6).
func cronDays(days []int) string {
	out := ""
	for i, d := range days {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", d%7)
	}
	return out
}

// monthlyCandidate clamps the requested day to the month's last valid day
// (day 31 in February becomes 28 or 29).
func monthlyCandidate(year int, month time.Month, day int, tod domain.TimeOfDay, loc *time.Location) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, tod.Hour, tod.Minute, 0, 0, loc)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
