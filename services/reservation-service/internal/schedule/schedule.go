package schedule

import (
	"errors"
	"log/slog"

	"github.com/example/tablebook/services/reservation-service/internal/model"
	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
)

// ErrOutsideHours rejects intervals that do not fit the operating window.
var ErrOutsideHours = errors.New("interval is outside operating hours")

// Window is the daily operating window plus the candidate grid step.
// Bookings must fit entirely inside [Open, Close).
type Window struct {
	Open                   timeslot.Clock
	Close                  timeslot.Clock
	StepMinutes            int
	DefaultDurationMinutes int
}

// DefaultWindow is 05:00-20:00 on a quarter-hour grid with a one hour
// default duration.
func DefaultWindow() Window {
	return Window{
		Open:                   timeslot.Clock(5 * 60),
		Close:                  timeslot.Clock(20 * 60),
		StepMinutes:            15,
		DefaultDurationMinutes: 60,
	}
}

// Contains reports whether iv fits entirely inside the operating window.
func (w Window) Contains(iv timeslot.Interval) bool {
	return iv.Start >= w.Open && iv.End() <= w.Close
}

// BusyIntervals converts stored reservations into busy intervals, skipping
// excludeID (used by edit flows to ignore the record being changed). Rows
// whose stored time or duration no longer parses are skipped with a warning:
// legacy data must not abort an availability check, but it is logged so it
// can be cleaned up.
func BusyIntervals(logger *slog.Logger, reservations []model.Reservation, excludeID string) []timeslot.Interval {
	busy := make([]timeslot.Interval, 0, len(reservations))
	for _, r := range reservations {
		if excludeID != "" && r.ID == excludeID {
			continue
		}
		iv, err := r.Interval()
		if err != nil {
			if logger != nil {
				logger.Warn("skipping reservation with unparseable time",
					"reservation_id", r.ID, "date", r.Date, "time", r.StartTime, "err", err)
			}
			continue
		}
		busy = append(busy, iv)
	}
	return busy
}

// Available reports whether the candidate interval conflicts with none of
// the busy intervals.
func Available(candidate timeslot.Interval, busy []timeslot.Interval) bool {
	return !timeslot.OverlapsAny(candidate, busy)
}

// FindNearest returns the earliest grid slot at or after desired whose
// interval fits before Close and overlaps nothing in busy. A desired start
// off the grid is rounded up to the next grid boundary. The scan is a pure
// function of its inputs; no capacity left returns ok=false.
func (w Window) FindNearest(desired timeslot.Clock, durationMinutes int, busy []timeslot.Interval) (timeslot.Clock, bool) {
	if durationMinutes <= 0 || w.StepMinutes <= 0 {
		return 0, false
	}

	start := desired
	if start < w.Open {
		start = w.Open
	}
	offset := int(start - w.Open)
	if rem := offset % w.StepMinutes; rem != 0 {
		offset += w.StepMinutes - rem
	}

	for c := w.Open.Add(offset); c.Add(durationMinutes) <= w.Close; c = c.Add(w.StepMinutes) {
		if Available(timeslot.Interval{Start: c, DurationMinutes: durationMinutes}, busy) {
			return c, true
		}
	}
	return 0, false
}

// FreeSlots lists every grid slot of the given duration that is free for
// the day, for schedule rendering by the front ends.
func (w Window) FreeSlots(durationMinutes int, busy []timeslot.Interval) []timeslot.Clock {
	var free []timeslot.Clock
	for c := w.Open; c.Add(durationMinutes) <= w.Close; c = c.Add(w.StepMinutes) {
		if Available(timeslot.Interval{Start: c, DurationMinutes: durationMinutes}, busy) {
			free = append(free, c)
		}
	}
	return free
}
