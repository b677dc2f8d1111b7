package schedule

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/example/tablebook/services/reservation-service/internal/model"
	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
)

func at(t *testing.T, s string) timeslot.Clock {
	t.Helper()
	c, err := timeslot.ParseClock(s)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFindNearest_SkipsPastConflict(t *testing.T) {
	// Existing reservation 14:00-16:00; a 60 minute request at 14:00 must
	// land on 16:00, the first free grid slot.
	w := DefaultWindow()
	busy := []timeslot.Interval{{Start: at(t, "14:00"), DurationMinutes: 120}}

	got, ok := w.FindNearest(at(t, "14:00"), 60, busy)
	if !ok {
		t.Fatal("expected a slot")
	}
	if got.String() != "16:00" {
		t.Fatalf("expected 16:00, got %s", got)
	}
}

func TestFindNearest_Deterministic(t *testing.T) {
	w := DefaultWindow()
	busy := []timeslot.Interval{
		{Start: at(t, "09:00"), DurationMinutes: 45},
		{Start: at(t, "10:30"), DurationMinutes: 90},
	}
	first, ok1 := w.FindNearest(at(t, "09:10"), 30, busy)
	second, ok2 := w.FindNearest(at(t, "09:10"), 30, busy)
	if ok1 != ok2 || first != second {
		t.Fatalf("same inputs produced different results: %v/%v vs %v/%v", first, ok1, second, ok2)
	}
	// 09:10 rounds up to 09:15 which conflicts; 09:45 is the first fit.
	if first.String() != "09:45" {
		t.Fatalf("expected 09:45, got %s", first)
	}
}

func TestFindNearest_StaysInsideOperatingHours(t *testing.T) {
	w := DefaultWindow()

	if got, ok := w.FindNearest(at(t, "04:00"), 60, nil); !ok || got != w.Open {
		t.Fatalf("pre-opening request should clamp to opening, got %v ok=%v", got, ok)
	}

	// 19:30 + 60 crosses the 20:00 close; no later slot fits either.
	if got, ok := w.FindNearest(at(t, "19:30"), 60, nil); ok {
		t.Fatalf("expected no slot crossing closing time, got %v", got)
	}

	// 19:00 + 60 ends exactly at close, which is allowed.
	if got, ok := w.FindNearest(at(t, "18:50"), 60, nil); !ok || got.String() != "19:00" {
		t.Fatalf("expected 19:00, got %v ok=%v", got, ok)
	}
}

func TestFindNearest_NoCapacity(t *testing.T) {
	w := DefaultWindow()
	busy := []timeslot.Interval{{Start: w.Open, DurationMinutes: int(w.Close - w.Open)}}
	if _, ok := w.FindNearest(w.Open, 30, busy); ok {
		t.Fatal("fully booked day should yield no slot")
	}
}

func TestBusyIntervals_SkipsMalformedLegacyRows(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rs := []model.Reservation{
		{ID: "a", Date: "2025-04-12", StartTime: "14:00", DurationMinutes: 120},
		{ID: "b", Date: "2025-04-12", StartTime: "25:99", DurationMinutes: 60},
		{ID: "c", Date: "2025-04-12", StartTime: "bogus", DurationMinutes: 60},
	}
	busy := BusyIntervals(logger, rs, "")
	if len(busy) != 1 {
		t.Fatalf("expected 1 valid interval, got %d", len(busy))
	}
	if !bytes.Contains(buf.Bytes(), []byte("unparseable")) {
		t.Fatal("expected a warning for skipped rows")
	}
}

func TestBusyIntervals_ExcludesEditedReservation(t *testing.T) {
	rs := []model.Reservation{
		{ID: "a", StartTime: "14:00", DurationMinutes: 60},
		{ID: "b", StartTime: "15:00", DurationMinutes: 60},
	}
	busy := BusyIntervals(nil, rs, "a")
	if len(busy) != 1 || busy[0].Start.String() != "15:00" {
		t.Fatalf("expected only reservation b, got %+v", busy)
	}
}

func TestAvailable(t *testing.T) {
	busy := []timeslot.Interval{{Start: at(t, "14:00"), DurationMinutes: 120}}

	if Available(timeslot.Interval{Start: at(t, "14:00"), DurationMinutes: 60}, busy) {
		t.Fatal("14:00/60 must conflict with 14:00-16:00")
	}
	if !Available(timeslot.Interval{Start: at(t, "16:00"), DurationMinutes: 60}, busy) {
		t.Fatal("16:00/60 must be free after 14:00-16:00")
	}
	if !Available(timeslot.Interval{Start: at(t, "13:00"), DurationMinutes: 60}, busy) {
		t.Fatal("13:00-14:00 touches but does not overlap")
	}
}

func TestFreeSlots_RespectsWindow(t *testing.T) {
	w := Window{Open: at(t, "09:00"), Close: at(t, "10:00"), StepMinutes: 15, DefaultDurationMinutes: 60}
	free := w.FreeSlots(30, nil)
	// 09:00 and 09:15 and 09:30 fit a 30 minute booking before 10:00.
	if len(free) != 3 {
		t.Fatalf("expected 3 free slots, got %d (%v)", len(free), free)
	}
	for _, c := range free {
		if c < w.Open || c.Add(30) > w.Close {
			t.Fatalf("slot %s escapes the operating window", c)
		}
	}
}
