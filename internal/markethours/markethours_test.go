package markethours

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	return loc
}

func newTestClock(t *testing.T) (*Clock, *time.Location) {
	t.Helper()
	loc := newYork(t)
	c, err := NewClock(loc, USEquityHours, DefaultCalendar(), nil)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	return c, loc
}

func TestClock_Sessions(t *testing.T) {
	c, loc := newTestClock(t)
	at := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, loc)
	}

	tests := []struct {
		name     string
		now      time.Time
		session  Session
		halfDay  bool
		nextOpen time.Time
	}{
		{"overnight before premarket", at(2026, 10, 15, 3, 59), SessionClosed, false, at(2026, 10, 15, 9, 30)},
		{"premarket start", at(2026, 10, 15, 4, 0), SessionPremarket, false, at(2026, 10, 15, 9, 30)},
		{"one minute before open", at(2026, 10, 15, 9, 29), SessionPremarket, false, at(2026, 10, 15, 9, 30)},
		{"open bell", at(2026, 10, 15, 9, 30), SessionOpen, false, at(2026, 10, 16, 9, 30)},
		{"friday open rolls to monday", at(2026, 10, 16, 11, 0), SessionOpen, false, at(2026, 10, 19, 9, 30)},
		{"close bell", at(2026, 10, 15, 16, 0), SessionAfterHours, false, at(2026, 10, 16, 9, 30)},
		{"after-hours end", at(2026, 10, 15, 20, 0), SessionClosed, false, at(2026, 10, 16, 9, 30)},
		{"saturday", at(2026, 10, 17, 12, 0), SessionClosed, false, at(2026, 10, 19, 9, 30)},
		{"holiday", at(2026, 11, 26, 10, 0), SessionClosed, false, at(2026, 11, 27, 9, 30)},
		{"holiday next to weekend", at(2026, 7, 2, 18, 0), SessionAfterHours, false, at(2026, 7, 6, 9, 30)},
		{"friday holiday", at(2026, 7, 3, 10, 0), SessionClosed, false, at(2026, 7, 6, 9, 30)},
		{"half-day open", at(2026, 11, 27, 12, 59), SessionOpen, true, at(2026, 11, 30, 9, 30)},
		{"half-day after close", at(2026, 11, 27, 13, 30), SessionAfterHours, true, at(2026, 11, 30, 9, 30)},
		{"half-day after-hours keeps width", at(2026, 11, 27, 17, 0), SessionClosed, true, at(2026, 11, 30, 9, 30)},
		{"christmas eve to after christmas", at(2026, 12, 24, 14, 0), SessionAfterHours, true, at(2026, 12, 28, 9, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := c.At(tt.now)
			if st.Session != tt.session {
				t.Fatalf("session = %s, want %s", st.Session, tt.session)
			}
			if st.IsHalfDay != tt.halfDay {
				t.Errorf("IsHalfDay = %v, want %v", st.IsHalfDay, tt.halfDay)
			}
			if !st.NextOpen.Equal(tt.nextOpen) {
				t.Errorf("NextOpen = %s, want %s", st.NextOpen.In(loc), tt.nextOpen)
			}
			if st.NextOpen.Location() != time.UTC {
				t.Errorf("NextOpen not UTC: %v", st.NextOpen.Location())
			}
			if !st.NextOpen.After(tt.now) {
				t.Errorf("NextOpen %s not after now %s", st.NextOpen, tt.now)
			}
			if st.IsOpen != (tt.session == SessionOpen) ||
				st.IsPremarket != (tt.session == SessionPremarket) ||
				st.IsAfterHours != (tt.session == SessionAfterHours) {
				t.Errorf("flags inconsistent with session %s: %+v", tt.session, st)
			}
			if (st.NextClose != nil) != (tt.session == SessionOpen) {
				t.Errorf("NextClose = %v for session %s", st.NextClose, tt.session)
			}
		})
	}
}

func TestClock_OpenReportsDayClose(t *testing.T) {
	c, loc := newTestClock(t)

	// Every minute of a regular day and of a half-day.
	days := []struct {
		date  time.Time
		close time.Time
	}{
		{time.Date(2026, 10, 15, 0, 0, 0, 0, loc), time.Date(2026, 10, 15, 16, 0, 0, 0, loc)},
		{time.Date(2026, 12, 24, 0, 0, 0, 0, loc), time.Date(2026, 12, 24, 13, 0, 0, 0, loc)},
	}
	for _, d := range days {
		open := time.Date(d.date.Year(), d.date.Month(), d.date.Day(), 9, 30, 0, 0, loc)
		for now := open; now.Before(d.close); now = now.Add(time.Minute) {
			st := c.At(now)
			if st.Session != SessionOpen || !st.IsOpen {
				t.Fatalf("%s: session = %s, want open", now, st.Session)
			}
			if st.NextClose == nil || !st.NextClose.Equal(d.close) {
				t.Fatalf("%s: NextClose = %v, want %s", now, st.NextClose, d.close)
			}
		}
	}
}

func TestClock_NonTradingDaysRollForward(t *testing.T) {
	c, loc := newTestClock(t)

	// Thanksgiving Thursday through the following Sunday.
	want := map[int]time.Time{
		26: time.Date(2026, 11, 27, 9, 30, 0, 0, loc),
		28: time.Date(2026, 11, 30, 9, 30, 0, 0, loc),
		29: time.Date(2026, 11, 30, 9, 30, 0, 0, loc),
	}
	for day, next := range want {
		for h := 0; h < 24; h++ {
			now := time.Date(2026, 11, day, h, 15, 0, 0, loc)
			st := c.At(now)
			if st.Session != SessionClosed {
				t.Fatalf("%s: session = %s, want closed", now, st.Session)
			}
			if !st.NextOpen.Equal(next) {
				t.Fatalf("%s: NextOpen = %s, want %s", now, st.NextOpen.In(loc), next)
			}
		}
	}
}

func TestClock_DaylightSavingTransition(t *testing.T) {
	c, loc := newTestClock(t)

	// DST starts Sunday 2026-03-08; open moves from 14:30 UTC to 13:30 UTC.
	st := c.At(time.Date(2026, 3, 6, 17, 0, 0, 0, loc))
	want := time.Date(2026, 3, 9, 13, 30, 0, 0, time.UTC)
	if !st.NextOpen.Equal(want) {
		t.Errorf("NextOpen across DST = %s, want %s", st.NextOpen, want)
	}

	before := c.At(time.Date(2026, 3, 6, 14, 29, 0, 0, time.UTC))
	if before.Session != SessionPremarket {
		t.Errorf("14:29 UTC on 2026-03-06 = %s, want premarket", before.Session)
	}
	after := c.At(time.Date(2026, 3, 9, 13, 30, 0, 0, time.UTC))
	if after.Session != SessionOpen {
		t.Errorf("13:30 UTC on 2026-03-09 = %s, want open", after.Session)
	}
}

func TestClock_StatusString(t *testing.T) {
	c, loc := newTestClock(t)

	s := c.StatusString(time.Date(2026, 10, 15, 15, 0, 0, 0, loc))
	if !strings.HasPrefix(s, "Market Open") || !strings.Contains(s, "1h0m") {
		t.Errorf("unexpected open status: %q", s)
	}
	s = c.StatusString(time.Date(2026, 10, 17, 9, 30, 0, 0, loc))
	if !strings.Contains(s, "opens Mon 09:30") {
		t.Errorf("unexpected closed status: %q", s)
	}
}

func TestNewCalendar_Validation(t *testing.T) {
	tests := []struct {
		name    string
		entries []CalendarEntry
	}{
		{"bad date", []CalendarEntry{{Date: "2026-13-01", Kind: Holiday}}},
		{"unknown kind", []CalendarEntry{{Date: "2026-01-02", Kind: "vacation"}}},
		{"duplicate", []CalendarEntry{
			{Date: "2026-11-27", Kind: Holiday},
			{Date: "2026-11-27", Kind: HalfDay},
		}},
		{"half-day on weekend", []CalendarEntry{{Date: "2026-10-17", Kind: HalfDay}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCalendar(tt.entries)
			if !errors.Is(err, ErrInvalidCalendar) {
				t.Fatalf("expected ErrInvalidCalendar, got %v", err)
			}
		})
	}
}

func TestLoadCalendar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	body := `days:
  - {date: 2027-01-01, kind: holiday, name: New Year}
  - {date: 2027-11-26, kind: half-day}
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cal, err := LoadCalendar(path)
	if err != nil {
		t.Fatalf("LoadCalendar: %v", err)
	}
	if got := len(cal.Entries()); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}

	loc := newYork(t)
	c, err := NewClock(loc, USEquityHours, cal, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.IsTradingDay(time.Date(2027, 1, 1, 12, 0, 0, 0, loc)) {
		t.Error("2027-01-01 should be a holiday")
	}
	if st := c.At(time.Date(2027, 11, 26, 13, 30, 0, 0, loc)); st.Session != SessionAfterHours || !st.IsHalfDay {
		t.Errorf("2027-11-26 13:30 = %+v, want half-day after-hours", st)
	}
}

func TestHours_Validate(t *testing.T) {
	h := USEquityHours
	h.HalfDayClose = ClockTime{17, 0}
	if err := h.Validate(); err == nil {
		t.Error("expected error for half-day close after regular close")
	}
}
