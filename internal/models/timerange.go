package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a range would end at or before its start.
var ErrInvalidRange = errors.New("invalid time range")

// TimeRange is a half-open interval [Start, End) of instants.
// Instances built through NewTimeRange always satisfy Start < End.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange validates and builds a range. End must be strictly after Start.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeRange{Start: start, End: end}, nil
}

// Overlaps checks if two ranges share at least one instant.
// Uses half-open interval [start, end) semantics - the end boundary is
// exclusive, so [09:00, 10:00) and [10:00, 11:00) do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	// Two intervals [A, B) and [C, D) overlap if A < D && C < B.
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// ContainsDate checks if the range covers any part of a specific calendar day.
func (r TimeRange) ContainsDate(date time.Time) bool {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	return r.Overlaps(TimeRange{Start: dayStart, End: dayEnd})
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Equal compares by instant values only.
func (r TimeRange) Equal(other TimeRange) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}
