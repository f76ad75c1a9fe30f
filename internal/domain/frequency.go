package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FrequencyType is the discriminant of the FrequencySpec union.
type FrequencyType string

const (
	FreqOnce     FrequencyType = "once"
	FreqDaily    FrequencyType = "daily"
	FreqWeekly   FrequencyType = "weekly"
	FreqMonthly  FrequencyType = "monthly"
	FreqHourly   FrequencyType = "hourly"
	FreqMinutely FrequencyType = "minutely"
	FreqCustom   FrequencyType = "custom"
)

// IntervalUnit is the unit of a custom repeat interval.
type IntervalUnit string

const (
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
	UnitWeek   IntervalUnit = "week"
)

// Duration returns the wall-clock length of one unit.
func (u IntervalUnit) Duration() time.Duration {
	switch u {
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// FrequencySpec describes how a reminder repeats. Type selects the variant;
// only the fields belonging to that variant are meaningful. Validate rejects
// anything outside the closed set.
type FrequencySpec struct {
	Type FrequencyType `json:"type"`

	// Once
	Date string `json:"date,omitempty"` // 2006-01-02

	// Weekly: ISO weekdays, Monday=1 .. Sunday=7
	Days []int `json:"days,omitempty"`

	// Monthly
	DayOfMonth int `json:"day_of_month,omitempty"`

	// Custom
	Interval int          `json:"interval,omitempty"`
	Unit     IntervalUnit `json:"unit,omitempty"`
}

// Validate checks the spec against its variant. Unrecognized variants are
// rejected explicitly rather than treated as "never fires".
func (f FrequencySpec) Validate() error {
	switch f.Type {
	case FreqOnce:
		if _, err := time.Parse("2006-01-02", f.Date); err != nil {
			return Errorf(KindValidation, "once: invalid date %q", f.Date)
		}
	case FreqDaily, FreqHourly, FreqMinutely:
		// no parameters
	case FreqWeekly:
		if len(f.Days) == 0 {
			return Errorf(KindValidation, "weekly: at least one weekday required")
		}
		for _, d := range f.Days {
			if d < 1 || d > 7 {
				return Errorf(KindValidation, "weekly: weekday %d out of range 1-7", d)
			}
		}
	case FreqMonthly:
		if f.DayOfMonth < 1 || f.DayOfMonth > 31 {
			return Errorf(KindValidation, "monthly: day %d out of range 1-31", f.DayOfMonth)
		}
	case FreqCustom:
		if f.Interval < 1 {
			return Errorf(KindValidation, "custom: interval must be positive, got %d", f.Interval)
		}
		if f.Unit.Duration() == 0 {
			return Errorf(KindValidation, "custom: unknown unit %q", f.Unit)
		}
	default:
		return Errorf(KindValidation, "unknown frequency type %q", f.Type)
	}
	return nil
}

// IsRecurring reports whether the spec fires more than once.
func (f FrequencySpec) IsRecurring() bool {
	return f.Type != FreqOnce
}

// IsOffset reports whether the next occurrence is a direct offset from now
// rather than a calendar boundary.
func (f FrequencySpec) IsOffset() bool {
	return f.Type == FreqMinutely || f.Type == FreqCustom
}

// Offset returns the direct offset for offset-based variants.
func (f FrequencySpec) Offset() time.Duration {
	switch f.Type {
	case FreqMinutely:
		return time.Minute
	case FreqCustom:
		return time.Duration(f.Interval) * f.Unit.Duration()
	default:
		return 0
	}
}

var weekdayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Describe returns a short human-readable summary, e.g. "weekly on Mon, Thu".
func (f FrequencySpec) Describe() string {
	switch f.Type {
	case FreqOnce:
		return "once on " + f.Date
	case FreqWeekly:
		days := append([]int(nil), f.Days...)
		sort.Ints(days)
		names := make([]string, 0, len(days))
		for _, d := range days {
			if d >= 1 && d <= 7 {
				names = append(names, weekdayNames[d-1])
			}
		}
		return "weekly on " + strings.Join(names, ", ")
	case FreqMonthly:
		return fmt.Sprintf("monthly on day %d", f.DayOfMonth)
	case FreqCustom:
		return fmt.Sprintf("every %d %s(s)", f.Interval, f.Unit)
	default:
		return string(f.Type)
	}
}

// ParseFrequency decodes the canonical JSON shape and validates it.
func ParseFrequency(raw []byte) (FrequencySpec, error) {
	var f FrequencySpec
	if err := json.Unmarshal(raw, &f); err != nil {
		return FrequencySpec{}, Errorf(KindValidation, "parse frequency: %v", err)
	}
	if err := f.Validate(); err != nil {
		return FrequencySpec{}, err
	}
	return f, nil
}

// legacyFrequency is the historical payload shape: the variant was keyed by a
// numeric "id" and the custom interval by "intervalValue". Kept only for the
// one-time migration at storage open; new writes always use the canonical
// shape.
type legacyFrequency struct {
	ID            *int         `json:"id"`
	Type          string       `json:"type"`
	Date          string       `json:"date"`
	Days          []int        `json:"days"`
	DayOfMonth    int          `json:"day_of_month"`
	Interval      int          `json:"interval"`
	IntervalValue int          `json:"intervalValue"`
	Unit          IntervalUnit `json:"unit"`
}

var legacyTypeByID = map[int]FrequencyType{
	0: FreqOnce,
	1: FreqDaily,
	2: FreqWeekly,
	3: FreqMonthly,
	4: FreqHourly,
	5: FreqMinutely,
	6: FreqCustom,
}

// ParseFrequencyLegacy accepts either the canonical shape or the historical
// one and normalizes to canonical.
func ParseFrequencyLegacy(raw []byte) (FrequencySpec, error) {
	if f, err := ParseFrequency(raw); err == nil {
		return f, nil
	}
	var lf legacyFrequency
	if err := json.Unmarshal(raw, &lf); err != nil {
		return FrequencySpec{}, Errorf(KindValidation, "parse legacy frequency: %v", err)
	}
	f := FrequencySpec{
		Date:       lf.Date,
		Days:       lf.Days,
		DayOfMonth: lf.DayOfMonth,
		Interval:   lf.Interval,
		Unit:       lf.Unit,
	}
	switch {
	case lf.Type != "":
		f.Type = FrequencyType(lf.Type)
	case lf.ID != nil:
		f.Type = legacyTypeByID[*lf.ID]
	}
	if f.Interval == 0 {
		f.Interval = lf.IntervalValue
	}
	if err := f.Validate(); err != nil {
		return FrequencySpec{}, err
	}
	return f, nil
}
