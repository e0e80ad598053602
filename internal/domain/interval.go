package domain

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the ISO calendar date used at the boundary.
	DateLayout   = "2006-01-02"
	minutesInDay = 24 * 60
)

// TimeOfDay is a wall-clock time as minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses a zero-padded 24-hour "HH:MM" value in 00:00–23:59.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	invalid := &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not a valid HH:MM time", raw)}
	if len(raw) != 5 || raw[2] != ':' {
		return 0, invalid
	}
	digits := [4]byte{raw[0], raw[1], raw[3], raw[4]}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, invalid
		}
	}
	hours := int(raw[0]-'0')*10 + int(raw[1]-'0')
	minutes := int(raw[3]-'0')*10 + int(raw[4]-'0')
	if hours > 23 || minutes > 59 {
		return 0, invalid
	}
	return TimeOfDay(hours*60 + minutes), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Interval is a half-open span [Start, End) in minutes after midnight of the
// activity's date. End may run past midnight; it is never carried to the next day.
type Interval struct {
	Start int
	End   int
}

// NewInterval builds [start, start+duration). Duration must be positive.
func NewInterval(start TimeOfDay, durationMin int) (Interval, error) {
	if durationMin <= 0 {
		return Interval{}, &ValidationError{Field: "duration_min", Reason: "must be > 0"}
	}
	return Interval{Start: int(start), End: int(start) + durationMin}, nil
}

// Overlaps uses strict inequalities, so back-to-back intervals do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && other.Start < i.End
}

// Minutes is the interval length.
func (i Interval) Minutes() int { return i.End - i.Start }

// ParseDate parses an ISO calendar date into midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a valid YYYY-MM-DD date", raw)}
	}
	return d, nil
}

// DateOf strips the time of day, keeping the wall-clock calendar day of t.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar day.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// DaysBetween is the signed day count from a to b, both truncated to the day.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
