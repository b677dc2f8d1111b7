package model

import (
	"time"

	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
)

// Reservation is one booked interval of the shared table.
type Reservation struct {
	ID              string
	RequesterID     string
	DisplayName     string
	AuthorName      string
	EventName       string
	Date            string // canonical YYYY-MM-DD
	StartTime       string // HH:MM
	DurationMinutes int
	CreatedAt       time.Time
}

// Interval returns the reservation as a half-open interval. Stored rows may
// predate strict input validation, so the parse error must be handled.
func (r Reservation) Interval() (timeslot.Interval, error) {
	start, err := timeslot.ParseClock(r.StartTime)
	if err != nil {
		return timeslot.Interval{}, err
	}
	return timeslot.NewInterval(start, r.DurationMinutes)
}

// EndTime is derived, never persisted.
func (r Reservation) EndTime() (string, error) {
	iv, err := r.Interval()
	if err != nil {
		return "", err
	}
	return iv.End().String(), nil
}
