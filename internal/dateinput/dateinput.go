// Package dateinput converts user-facing locale strings into instants.
// Dates are entered as DD.MM.YYYY and times as HH:MM; parsing is strict and
// never clamps impossible calendar dates. Combining a date and a time into an
// instant always goes through an explicit *time.Location so that creation and
// later overlap comparison agree on the zone.
package dateinput

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedDate is returned for input that is not a valid DD.MM.YYYY date.
	ErrMalformedDate = errors.New("malformed date")
	// ErrMalformedTime is returned for input that is not a valid HH:MM time.
	ErrMalformedTime = errors.New("malformed time")
)

var (
	dateRe = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	timeRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// Date is a calendar date without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// TimeOfDay is a wall-clock time without a date component.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseDate parses a strict DD.MM.YYYY string. The day and month may be one
// or two digits, the year must be exactly four. Impossible calendar dates
// (31.04, 30.02, 29.02 outside leap years) fail instead of being clamped.
func ParseDate(s string) (Date, error) {
	m := dateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}

	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}

	// time.Date normalizes out-of-range days (31.04 becomes 01.05), so the
	// round-trip check is what rejects impossible dates.
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return Date{}, fmt.Errorf("%w: %q does not exist", ErrMalformedDate, s)
	}

	return Date{Year: year, Month: time.Month(month), Day: day}, nil
}

// ParseTime parses a strict HH:MM string with hours 0-23 and minutes 0-59.
func ParseTime(s string) (TimeOfDay, error) {
	m := timeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// Combine builds an instant from a parsed date and time in the given zone.
// The zone must be the single system-wide booking zone; mixing zones between
// creation and comparison silently breaks overlap detection.
func Combine(d Date, t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, 0, 0, loc)
}

// Format renders the date back as DD.MM.YYYY.
func (d Date) Format() string {
	return fmt.Sprintf("%02d.%02d.%04d", d.Day, int(d.Month), d.Year)
}

// Format renders the time back as HH:MM.
func (t TimeOfDay) Format() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns the time of day as minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}
