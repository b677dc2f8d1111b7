package timeslot

import (
	"errors"
	"testing"
)

func TestParseClock_RoundTrip(t *testing.T) {
	// Every minute of the day survives format -> parse unchanged.
	for m := 0; m < 24*60; m++ {
		c := Clock(m)
		got, err := ParseClock(c.String())
		if err != nil {
			t.Fatalf("ParseClock(%q) failed: %v", c.String(), err)
		}
		if got != c {
			t.Fatalf("round trip mismatch: %d -> %q -> %d", m, c.String(), got)
		}
	}
}

func TestParseClock_Malformed(t *testing.T) {
	cases := []string{"", "9:00", "09:0", "24:00", "12:60", "ab:cd", "12-30", "12:345", "١٢:٣٠"}
	for _, s := range cases {
		if _, err := ParseClock(s); !errors.Is(err, ErrMalformedTime) {
			t.Errorf("ParseClock(%q): want ErrMalformedTime, got %v", s, err)
		}
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-04-12")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if got != "2025-04-12" {
		t.Fatalf("unexpected canonical date %q", got)
	}

	for _, s := range []string{"2025-4-12", "12.04.2025", "2025-02-30", "tomorrow", ""} {
		if _, err := ParseDate(s); !errors.Is(err, ErrMalformedDate) {
			t.Errorf("ParseDate(%q): want ErrMalformedDate, got %v", s, err)
		}
	}
}

func TestNewInterval_RejectsBadDuration(t *testing.T) {
	for _, d := range []int{0, -15} {
		if _, err := NewInterval(Clock(9*60), d); !errors.Is(err, ErrBadDuration) {
			t.Errorf("duration %d: want ErrBadDuration, got %v", d, err)
		}
	}
}

func TestOverlaps(t *testing.T) {
	at := func(s string) Clock {
		t.Helper()
		c, err := ParseClock(s)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", Interval{at("14:00"), 60}, Interval{at("14:00"), 60}, true},
		{"contained", Interval{at("14:00"), 120}, Interval{at("14:30"), 30}, true},
		{"partial", Interval{at("14:00"), 60}, Interval{at("14:30"), 60}, true},
		{"touching endpoints do not conflict", Interval{at("14:00"), 60}, Interval{at("15:00"), 60}, false},
		{"disjoint", Interval{at("09:00"), 30}, Interval{at("11:00"), 30}, false},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
		// The predicate is symmetric.
		if got := Overlaps(tc.b, tc.a); got != tc.want {
			t.Errorf("%s (swapped): Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOverlapsAny(t *testing.T) {
	busy := []Interval{
		{Start: Clock(14 * 60), DurationMinutes: 120},
	}
	if !OverlapsAny(Interval{Start: Clock(14 * 60), DurationMinutes: 60}, busy) {
		t.Fatal("14:00/60 should conflict with 14:00-16:00")
	}
	if OverlapsAny(Interval{Start: Clock(16 * 60), DurationMinutes: 60}, busy) {
		t.Fatal("16:00/60 should not conflict with 14:00-16:00")
	}
}
