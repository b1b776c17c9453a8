package timeutil

import (
	"fmt"
	"time"
)

// DefaultZone is the reporting timezone for daily reports (UTC+7). Weekly and
// monthly windows are always UTC.
var DefaultZone = time.FixedZone("UTC+7", 7*60*60)

// Zone returns a fixed reporting zone for an hour offset from UTC.
func Zone(offsetHours int) *time.Location {
	if offsetHours == 0 {
		return time.UTC
	}
	sign := "+"
	h := offsetHours
	if h < 0 {
		sign = "-"
		h = -h
	}
	return time.FixedZone(fmt.Sprintf("UTC%s%d", sign, h), offsetHours*60*60)
}

// Window is a report period [Start, End) in UTC.
type Window struct {
	Kind  string    `json:"kind"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Days returns the number of calendar days the window spans.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// DayWindow returns the calendar-day window containing date in loc.
func DayWindow(date time.Time, loc *time.Location) Window {
	local := date.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{Kind: "daily", Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}
}

// Yesterday returns yesterday's calendar-day window in loc.
func Yesterday(now time.Time, loc *time.Location) Window {
	return DayWindow(now.In(loc).AddDate(0, 0, -1), loc)
}

// WeekWindow returns the last completed ISO week (Monday 00:00 to the next
// Monday 00:00, UTC), shifted back by weeksAgo additional weeks.
func WeekWindow(now time.Time, weeksAgo int) Window {
	nowUTC := now.UTC()
	daysSinceSunday := int(nowUTC.Weekday()) // Sunday == 0
	if daysSinceSunday == 0 {
		daysSinceSunday = 7
	}
	sunday := nowUTC.AddDate(0, 0, -daysSinceSunday-7*weeksAgo)
	end := time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return Window{Kind: "weekly", Start: end.AddDate(0, 0, -7), End: end}
}

// MonthWindow returns the last completed calendar month in UTC, shifted back
// by monthsAgo additional months.
func MonthWindow(now time.Time, monthsAgo int) Window {
	nowUTC := now.UTC()
	first := time.Date(nowUTC.Year(), nowUTC.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := first.AddDate(0, -1-monthsAgo, 0)
	return Window{Kind: "monthly", Start: start, End: start.AddDate(0, 1, 0)}
}

// RangeWindow builds a window from inclusive YYYY-MM-DD bounds in loc.
func RangeWindow(startDate, endDate string, loc *time.Location) (Window, error) {
	start, err := time.ParseInLocation("2006-01-02", startDate, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid start date %q: use YYYY-MM-DD", startDate)
	}
	end, err := time.ParseInLocation("2006-01-02", endDate, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid end date %q: use YYYY-MM-DD", endDate)
	}
	if start.After(end) {
		return Window{}, fmt.Errorf("start date %s is after end date %s", startDate, endDate)
	}
	return Window{Kind: "range", Start: start.UTC(), End: end.AddDate(0, 0, 1).UTC()}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp formats the IRM API emits into a UTC
// instant. Naive timestamps are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
