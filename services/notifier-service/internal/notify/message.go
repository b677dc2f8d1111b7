package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ReservationEvent is the payload shape shared by every reservation topic.
type ReservationEvent struct {
	ReservationID   string `json:"reservation_id"`
	RequesterID     string `json:"requester_id"`
	DisplayName     string `json:"display_name"`
	AuthorName      string `json:"author_name"`
	EventName       string `json:"event_name"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

var ErrIncompleteEvent = errors.New("event payload missing required fields")

func Decode(raw []byte) (ReservationEvent, error) {
	var ev ReservationEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ReservationEvent{}, err
	}
	if ev.ReservationID == "" || ev.Date == "" || ev.StartTime == "" {
		return ReservationEvent{}, ErrIncompleteEvent
	}
	return ev, nil
}

// Subject builds the announcement subject line per event type.
func Subject(eventType string, ev ReservationEvent) string {
	switch eventType {
	case "reservation.booked.v1":
		return fmt.Sprintf("Booked: %s on %s", ev.EventName, ev.Date)
	case "reservation.rescheduled.v1":
		return fmt.Sprintf("Rescheduled: %s on %s", ev.EventName, ev.Date)
	case "reservation.cancelled.v1":
		return fmt.Sprintf("Cancelled: %s on %s", ev.EventName, ev.Date)
	default:
		return fmt.Sprintf("Reservation update: %s on %s", ev.EventName, ev.Date)
	}
}

// Body builds the announcement text. The slot line always shows both ends
// so readers need not do the duration arithmetic.
func Body(eventType string, ev ReservationEvent) string {
	span := ev.StartTime
	if ev.EndTime != "" {
		span = fmt.Sprintf("%s-%s", ev.StartTime, ev.EndTime)
	}
	switch eventType {
	case "reservation.cancelled.v1":
		return fmt.Sprintf("%s on %s (%s) was cancelled. Responsible: %s.",
			ev.EventName, ev.Date, span, ev.AuthorName)
	case "reservation.rescheduled.v1":
		return fmt.Sprintf("%s moved to %s, %s (%d min). Responsible: %s.",
			ev.EventName, ev.Date, span, ev.DurationMinutes, ev.AuthorName)
	default:
		return fmt.Sprintf("%s booked for %s, %s (%d min). Responsible: %s. Requested by %s.",
			ev.EventName, ev.Date, span, ev.DurationMinutes, ev.AuthorName, ev.DisplayName)
	}
}
