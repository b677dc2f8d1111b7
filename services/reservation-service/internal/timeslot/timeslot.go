package timeslot

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedTime rejects anything that is not a strict two-digit HH:MM.
	ErrMalformedTime = errors.New("malformed time, want HH:MM")
	// ErrMalformedDate rejects anything that is not a valid YYYY-MM-DD date.
	ErrMalformedDate = errors.New("malformed date, want YYYY-MM-DD")
	// ErrBadDuration rejects zero or negative durations.
	ErrBadDuration = errors.New("duration must be a positive number of minutes")
)

// Clock is a time of day expressed as minutes since midnight.
type Clock int

// ParseClock parses a strict HH:MM string (two-digit hour 00-23, two-digit
// minute 00-59). Everything else returns ErrMalformedTime; malformed values
// must never reach an overlap check.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	h, ok := twoDigits(s[0], s[1])
	if !ok || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	m, ok := twoDigits(s[3], s[4])
	if !ok || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	return Clock(h*60 + m), nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// ParseDate validates a calendar date and returns its canonical YYYY-MM-DD
// form. "2025-4-2" and impossible dates like "2025-02-30" are rejected.
func ParseDate(s string) (string, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}
	return d.Format("2006-01-02"), nil
}

// Interval is a half-open booking interval [Start, Start+Duration) on a
// single day.
type Interval struct {
	Start           Clock
	DurationMinutes int
}

// NewInterval builds an interval, rejecting non-positive durations.
func NewInterval(start Clock, durationMinutes int) (Interval, error) {
	if durationMinutes <= 0 {
		return Interval{}, ErrBadDuration
	}
	return Interval{Start: start, DurationMinutes: durationMinutes}, nil
}

func (iv Interval) End() Clock {
	return iv.Start.Add(iv.DurationMinutes)
}

// Overlaps is the single overlap predicate for the whole engine. Intervals
// are half-open, so touching endpoints do not conflict.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End() && b.Start < a.End()
}

// OverlapsAny reports whether iv overlaps at least one of busy.
func OverlapsAny(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(iv, b) {
			return true
		}
	}
	return false
}
