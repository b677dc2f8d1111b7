package notify

import (
	"errors"
	"strings"
	"testing"
)

var sample = ReservationEvent{
	ReservationID:   "res-1",
	RequesterID:     "user-1",
	DisplayName:     "dana",
	AuthorName:      "Dana",
	EventName:       "Board games",
	Date:            "2026-03-02",
	StartTime:       "18:00",
	EndTime:         "20:00",
	DurationMinutes: 120,
}

func TestDecode(t *testing.T) {
	raw := []byte(`{
		"reservation_id": "res-1", "requester_id": "user-1", "display_name": "dana",
		"author_name": "Dana", "event_name": "Board games",
		"date": "2026-03-02", "start_time": "18:00", "end_time": "20:00",
		"duration_minutes": 120
	}`)
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev != sample {
		t.Fatalf("ev = %+v", ev)
	}
}

func TestDecodeRejectsIncomplete(t *testing.T) {
	if _, err := Decode([]byte(`{"reservation_id": "res-1"}`)); !errors.Is(err, ErrIncompleteEvent) {
		t.Fatalf("err = %v, want ErrIncompleteEvent", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSubjectPerEventType(t *testing.T) {
	cases := []struct {
		eventType string
		want      string
	}{
		{"reservation.booked.v1", "Booked: Board games on 2026-03-02"},
		{"reservation.rescheduled.v1", "Rescheduled: Board games on 2026-03-02"},
		{"reservation.cancelled.v1", "Cancelled: Board games on 2026-03-02"},
		{"reservation.unknown.v9", "Reservation update: Board games on 2026-03-02"},
	}
	for _, tc := range cases {
		if got := Subject(tc.eventType, sample); got != tc.want {
			t.Errorf("Subject(%s) = %q, want %q", tc.eventType, got, tc.want)
		}
	}
}

func TestBodyShowsBothEndsOfSlot(t *testing.T) {
	body := Body("reservation.booked.v1", sample)
	if !strings.Contains(body, "18:00-20:00") {
		t.Fatalf("body %q missing slot span", body)
	}
	if !strings.Contains(body, "Dana") || !strings.Contains(body, "Board games") {
		t.Fatalf("body %q missing event details", body)
	}

	cancelled := Body("reservation.cancelled.v1", sample)
	if !strings.Contains(cancelled, "cancelled") {
		t.Fatalf("body %q should mention cancellation", cancelled)
	}
}
