package schedule

import (
	"testing"
	"time"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// A Wednesday. ISO weekday 3.
var baseNow = time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

func tod(h, m int) domain.TimeOfDay { return domain.TimeOfDay{Hour: h, Minute: m} }

func TestNextInstantVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec domain.FrequencySpec
		tod  domain.TimeOfDay
		now  time.Time
		want time.Time
	}{
		{
			name: "daily time 30m in the future stays on the same day",
			spec: domain.FrequencySpec{Type: domain.FreqDaily},
			tod:  tod(9, 30),
			now:  baseNow,
			want: time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "daily time 30m in the past rolls to the next day",
			spec: domain.FrequencySpec{Type: domain.FreqDaily},
			tod:  tod(8, 30),
			now:  baseNow,
			want: time.Date(2026, time.March, 5, 8, 30, 0, 0, time.UTC),
		},
		{
			name: "daily time inside the buffer rolls to the next day",
			spec: domain.FrequencySpec{Type: domain.FreqDaily},
			tod:  tod(9, 0),
			now:  baseNow.Add(-30 * time.Second),
			want: time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly on today's weekday with a future time fires today",
			spec: domain.FrequencySpec{Type: domain.FreqWeekly, Days: []int{3}},
			tod:  tod(9, 30),
			now:  baseNow,
			want: time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "weekly on today's weekday with a past time wraps a full week",
			spec: domain.FrequencySpec{Type: domain.FreqWeekly, Days: []int{3}},
			tod:  tod(8, 0),
			now:  baseNow,
			want: time.Date(2026, time.March, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly scans forward to the first selected day",
			spec: domain.FrequencySpec{Type: domain.FreqWeekly, Days: []int{1, 5}},
			tod:  tod(10, 0),
			now:  baseNow,
			want: time.Date(2026, time.March, 6, 10, 0, 0, 0, time.UTC), // Friday
		},
		{
			name: "weekly sunday uses ISO numbering",
			spec: domain.FrequencySpec{Type: domain.FreqWeekly, Days: []int{7}},
			tod:  tod(10, 0),
			now:  baseNow,
			want: time.Date(2026, time.March, 8, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly later this month",
			spec: domain.FrequencySpec{Type: domain.FreqMonthly, DayOfMonth: 15},
			tod:  tod(9, 0),
			now:  baseNow,
			want: time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly day already passed advances a month",
			spec: domain.FrequencySpec{Type: domain.FreqMonthly, DayOfMonth: 2},
			tod:  tod(9, 0),
			now:  baseNow,
			want: time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly day 31 clamps to the end of february",
			spec: domain.FrequencySpec{Type: domain.FreqMonthly, DayOfMonth: 31},
			tod:  tod(9, 0),
			now:  time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC),
			want: time.Date(2026, time.February, 28, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly day 31 clamps to leap-year february 29",
			spec: domain.FrequencySpec{Type: domain.FreqMonthly, DayOfMonth: 31},
			tod:  tod(9, 0),
			now:  time.Date(2028, time.February, 1, 9, 0, 0, 0, time.UTC),
			want: time.Date(2028, time.February, 29, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly advance re-clamps against the next month",
			spec: domain.FrequencySpec{Type: domain.FreqMonthly, DayOfMonth: 31},
			tod:  tod(9, 0),
			now:  time.Date(2026, time.January, 31, 10, 0, 0, 0, time.UTC),
			want: time.Date(2026, time.February, 28, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "hourly snaps to the next hour boundary",
			spec: domain.FrequencySpec{Type: domain.FreqHourly},
			tod:  tod(0, 0),
			now:  time.Date(2026, time.March, 4, 9, 17, 12, 0, time.UTC),
			want: time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "hourly boundary inside the buffer skips to the following one",
			spec: domain.FrequencySpec{Type: domain.FreqHourly},
			tod:  tod(0, 0),
			now:  time.Date(2026, time.March, 4, 9, 59, 30, 0, time.UTC),
			want: time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "minutely is a direct one minute offset",
			spec: domain.FrequencySpec{Type: domain.FreqMinutely},
			tod:  tod(0, 0),
			now:  baseNow,
			want: baseNow.Add(time.Minute),
		},
		{
			name: "custom two minutes is exactly now plus two minutes",
			spec: domain.FrequencySpec{Type: domain.FreqCustom, Interval: 2, Unit: domain.UnitMinute},
			tod:  tod(0, 0),
			now:  baseNow,
			want: baseNow.Add(2 * time.Minute),
		},
		{
			name: "custom weeks is a direct offset, not a calendar step",
			spec: domain.FrequencySpec{Type: domain.FreqCustom, Interval: 1, Unit: domain.UnitWeek},
			tod:  tod(0, 0),
			now:  baseNow.Add(17 * time.Second),
			want: baseNow.Add(17*time.Second + 7*24*time.Hour),
		},
		{
			name: "once in the future",
			spec: domain.FrequencySpec{Type: domain.FreqOnce, Date: "2026-03-10"},
			tod:  tod(14, 0),
			now:  baseNow,
			want: time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextInstant(tt.spec, tt.tod, tt.now)
			if err != nil {
				t.Fatalf("NextInstant error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextInstant = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextInstantRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec domain.FrequencySpec
	}{
		{"once in the past", domain.FrequencySpec{Type: domain.FreqOnce, Date: "2020-01-01"}},
		{"once inside the buffer", domain.FrequencySpec{Type: domain.FreqOnce, Date: "2026-03-04"}},
		{"unknown variant", domain.FrequencySpec{Type: "fortnightly"}},
		{"weekly without days", domain.FrequencySpec{Type: domain.FreqWeekly}},
		{"monthly day out of range", domain.FrequencySpec{Type: domain.FreqMonthly, DayOfMonth: 32}},
		{"custom zero interval", domain.FrequencySpec{Type: domain.FreqCustom, Unit: domain.UnitHour}},
		{"custom unknown unit", domain.FrequencySpec{Type: domain.FreqCustom, Interval: 2, Unit: "fortnight"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextInstant(tt.spec, tod(9, 0), baseNow)
			if err == nil {
				t.Fatal("expected error")
			}
			if domain.KindOf(err) != domain.KindValidation {
				t.Fatalf("kind = %v, want validation", domain.KindOf(err))
			}
		})
	}
}

// Every variant must respect the one-minute buffer.
func TestNextInstantBufferInvariant(t *testing.T) {
	t.Parallel()
	specs := []domain.FrequencySpec{
		{Type: domain.FreqOnce, Date: "2027-06-15"},
		{Type: domain.FreqDaily},
		{Type: domain.FreqWeekly, Days: []int{1, 2, 3, 4, 5, 6, 7}},
		{Type: domain.FreqMonthly, DayOfMonth: 1},
		{Type: domain.FreqMonthly, DayOfMonth: 31},
		{Type: domain.FreqHourly},
		{Type: domain.FreqMinutely},
		{Type: domain.FreqCustom, Interval: 2, Unit: domain.UnitMinute},
		{Type: domain.FreqCustom, Interval: 3, Unit: domain.UnitDay},
	}
	nows := []time.Time{
		baseNow,
		baseNow.Add(29 * time.Second),
		baseNow.Add(-time.Second),
		time.Date(2026, time.December, 31, 23, 59, 0, 0, time.UTC),
		time.Date(2026, time.February, 28, 23, 30, 0, 0, time.UTC),
	}
	for _, spec := range specs {
		for _, now := range nows {
			got, err := NextInstant(spec, tod(9, 30), now)
			if err != nil {
				t.Fatalf("NextInstant(%v, %v) error: %v", spec.Type, now, err)
			}
			if got.Before(now.Truncate(time.Second).Add(Buffer)) {
				t.Fatalf("NextInstant(%v, %v) = %v, violates buffer", spec.Type, now, got)
			}
		}
	}
}

func TestNextInstantDeterministic(t *testing.T) {
	t.Parallel()
	spec := domain.FrequencySpec{Type: domain.FreqWeekly, Days: []int{2, 4}}
	a, err := NextInstant(spec, tod(7, 45), baseNow)
	if err != nil {
		t.Fatal(err)
	}
	// Sub-second differences in now must not change the result.
	b, err := NextInstant(spec, tod(7, 45), baseNow.Add(700*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Fatalf("results differ: %v vs %v", a, b)
	}
}

// Calendar variants keep local wall-clock time across a DST shift.
func TestNextInstantDSTWallClock(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// The night before the spring-forward transition (2026-03-29 in Europe).
	now := time.Date(2026, time.March, 28, 12, 0, 0, 0, loc)
	got, err := NextInstant(domain.FrequencySpec{Type: domain.FreqDaily}, tod(9, 0), now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hour() != 9 || got.Minute() != 0 {
		t.Fatalf("wall clock drifted across DST: %v", got)
	}
	if got.Day() != 29 {
		t.Fatalf("expected next day, got %v", got)
	}
}
