package timeutil

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2025-06-01T10:30:00Z", "2025-06-01T10:30:00Z", true},
		{"2025-06-01T10:30:00.123456Z", "2025-06-01T10:30:00.123456Z", true},
		{"2025-06-01T17:30:00+07:00", "2025-06-01T10:30:00Z", true},
		{"2025-06-01T10:30:00", "2025-06-01T10:30:00Z", true},
		{"2025-06-01 10:30:00", "2025-06-01T10:30:00Z", true},
		{"", "", false},
		{"not a timestamp", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseTimestamp(tc.in)
		if ok != tc.ok {
			t.Fatalf("ParseTimestamp(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if got.Location() != time.UTC {
			t.Fatalf("ParseTimestamp(%q) not UTC", tc.in)
		}
		if got.Format(time.RFC3339Nano) != tc.want {
			t.Fatalf("ParseTimestamp(%q) = %s, want %s", tc.in, got.Format(time.RFC3339Nano), tc.want)
		}
	}
}

func TestYesterdayWindow(t *testing.T) {
	// 2025-06-10 03:00 UTC is 2025-06-10 10:00 in UTC+7, so yesterday is
	// June 9 local, which starts at June 8 17:00 UTC.
	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
	w := Yesterday(now, DefaultZone)
	if w.Kind != "daily" {
		t.Fatalf("kind = %s", w.Kind)
	}
	wantStart := time.Date(2025, 6, 8, 17, 0, 0, 0, time.UTC)
	if !w.Start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", w.Start, wantStart)
	}
	if !w.End.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Fatalf("end = %s", w.End)
	}
}

func TestWindowContainsHalfOpen(t *testing.T) {
	w := DayWindow(time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC), time.UTC)
	if !w.Contains(w.Start) {
		t.Fatal("start should be inside")
	}
	if w.Contains(w.End) {
		t.Fatal("end should be outside")
	}
	if !w.Contains(w.End.Add(-time.Second)) {
		t.Fatal("instant before end should be inside")
	}
}

func TestWeekWindow(t *testing.T) {
	// Wednesday 2025-06-11: last completed ISO week is Mon Jun 2 .. Mon Jun 9.
	now := time.Date(2025, 6, 11, 15, 0, 0, 0, time.UTC)
	w := WeekWindow(now, 0)
	if got := w.Start.Format("2006-01-02"); got != "2025-06-02" {
		t.Fatalf("start = %s", got)
	}
	if got := w.End.Format("2006-01-02"); got != "2025-06-09" {
		t.Fatalf("end = %s", got)
	}
	if w.Start.Weekday() != time.Monday {
		t.Fatalf("start weekday = %s", w.Start.Weekday())
	}
	if w.Days() != 7 {
		t.Fatalf("days = %d", w.Days())
	}

	prev := WeekWindow(now, 1)
	if !prev.End.Equal(w.Start) {
		t.Fatalf("offset week should abut: %s vs %s", prev.End, w.Start)
	}
}

func TestWeekWindowOnMonday(t *testing.T) {
	// Running on Monday reports the week that just ended Sunday night.
	now := time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC)
	w := WeekWindow(now, 0)
	if got := w.Start.Format("2006-01-02"); got != "2025-06-02" {
		t.Fatalf("start = %s", got)
	}
}

func TestMonthWindow(t *testing.T) {
	now := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	w := MonthWindow(now, 0)
	if got := w.Start.Format("2006-01-02"); got != "2025-05-01" {
		t.Fatalf("start = %s", got)
	}
	if got := w.End.Format("2006-01-02"); got != "2025-06-01" {
		t.Fatalf("end = %s", got)
	}

	w = MonthWindow(now, 1)
	if got := w.Start.Format("2006-01-02"); got != "2025-04-01" {
		t.Fatalf("offset start = %s", got)
	}
}

func TestRangeWindow(t *testing.T) {
	w, err := RangeWindow("2025-06-01", "2025-06-03", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if w.Days() != 3 {
		t.Fatalf("days = %d", w.Days())
	}
	if w.Kind != "range" {
		t.Fatalf("kind = %s", w.Kind)
	}

	if _, err := RangeWindow("2025-06-03", "2025-06-01", time.UTC); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := RangeWindow("junk", "2025-06-01", time.UTC); err == nil {
		t.Fatal("expected error for bad start date")
	}
}

func TestZone(t *testing.T) {
	if Zone(0) != time.UTC {
		t.Fatal("offset 0 should be UTC")
	}
	_, offset := time.Now().In(Zone(7)).Zone()
	if offset != 7*3600 {
		t.Fatalf("offset = %d", offset)
	}
	_, offset = time.Now().In(Zone(-5)).Zone()
	if offset != -5*3600 {
		t.Fatalf("offset = %d", offset)
	}
}
