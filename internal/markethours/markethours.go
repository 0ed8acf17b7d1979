// Package markethours computes the trading session for any instant.
// All comparisons happen in the market's civil timezone so daylight-saving
// transitions are handled by the zone database; returned instants are UTC.
package markethours

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Session is one of the four mutually exclusive trading phases.
type Session string

const (
	SessionPremarket  Session = "premarket"
	SessionOpen       Session = "open"
	SessionAfterHours Session = "afterhours"
	SessionClosed     Session = "closed"
)

// Sessions lists every session in intraday order, closed last.
var Sessions = []Session{SessionPremarket, SessionOpen, SessionAfterHours, SessionClosed}

// Valid reports whether s is one of the four sessions.
func (s Session) Valid() bool {
	switch s {
	case SessionPremarket, SessionOpen, SessionAfterHours, SessionClosed:
		return true
	}
	return false
}

// ClockTime is a civil time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Hours are the session boundaries of a regular trading day.
type Hours struct {
	PremarketStart ClockTime
	Open           ClockTime
	Close          ClockTime
	HalfDayClose   ClockTime
	AfterHoursEnd  ClockTime
}

// USEquityHours are the NYSE/Nasdaq session boundaries (ET).
var USEquityHours = Hours{
	PremarketStart: ClockTime{4, 0},
	Open:           ClockTime{9, 30},
	Close:          ClockTime{16, 0},
	HalfDayClose:   ClockTime{13, 0},
	AfterHoursEnd:  ClockTime{20, 0},
}

// Validate checks that boundaries are in intraday order.
func (h Hours) Validate() error {
	order := []ClockTime{h.PremarketStart, h.Open, h.HalfDayClose, h.Close, h.AfterHoursEnd}
	for i := 1; i < len(order); i++ {
		if order[i].offset() <= order[i-1].offset() {
			return fmt.Errorf("session boundaries out of order: %s before %s", order[i], order[i-1])
		}
	}
	if h.AfterHoursEnd.offset() > 24*time.Hour {
		return fmt.Errorf("after-hours end %s past midnight", h.AfterHoursEnd)
	}
	return nil
}

// State is the session state at one instant. Instants are UTC.
// NextClose is nil unless Session is SessionOpen.
type State struct {
	IsOpen       bool       `json:"isOpen"`
	IsPremarket  bool       `json:"isPremarket"`
	IsAfterHours bool       `json:"isAfterHours"`
	IsHalfDay    bool       `json:"isHalfDay"`
	Session      Session    `json:"session"`
	NextOpen     time.Time  `json:"nextOpen"`
	NextClose    *time.Time `json:"nextClose"`
}

// Clock evaluates session state against a calendar in one timezone.
type Clock struct {
	loc   *time.Location
	hours Hours
	cal   *Calendar
	now   clockwork.Clock
}

// NewClock creates a session clock. A nil clock uses real time.
func NewClock(loc *time.Location, hours Hours, cal *Calendar, clock clockwork.Clock) (*Clock, error) {
	if loc == nil {
		return nil, fmt.Errorf("market timezone is required")
	}
	if err := hours.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Clock{loc: loc, hours: hours, cal: cal, now: clock}, nil
}

// Location returns the canonical market timezone.
func (c *Clock) Location() *time.Location { return c.loc }

// Now returns the session state at the current instant.
func (c *Clock) Now() State { return c.At(c.now.Now()) }

// At returns the session state at t.
func (c *Clock) At(t time.Time) State {
	local := t.In(c.loc)
	today := dateOf(local)

	if !c.isTradingDay(today) {
		return State{
			Session:  SessionClosed,
			NextOpen: c.openOn(c.nextTradingDay(today)),
		}
	}

	halfDay := c.cal.isHalfDay(today)
	premarket := c.boundary(today, c.hours.PremarketStart)
	open := c.boundary(today, c.hours.Open)
	closeAt, afterEnd := c.closeBoundaries(today, halfDay)

	st := State{IsHalfDay: halfDay}
	switch {
	case local.Before(premarket):
		st.Session = SessionClosed
		st.NextOpen = open.UTC()
	case local.Before(open):
		st.Session = SessionPremarket
		st.IsPremarket = true
		st.NextOpen = open.UTC()
	case local.Before(closeAt):
		st.Session = SessionOpen
		st.IsOpen = true
		nc := closeAt.UTC()
		st.NextClose = &nc
		st.NextOpen = c.openOn(c.nextTradingDay(today))
	case local.Before(afterEnd):
		st.Session = SessionAfterHours
		st.IsAfterHours = true
		st.NextOpen = c.openOn(c.nextTradingDay(today))
	default:
		st.Session = SessionClosed
		st.NextOpen = c.openOn(c.nextTradingDay(today))
	}
	return st
}

// IsTradingDay reports whether t's civil date is a weekday and not a holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	return c.isTradingDay(dateOf(t.In(c.loc)))
}

// NextOpen returns the next regular open strictly after t.
func (c *Clock) NextOpen(t time.Time) time.Time { return c.At(t).NextOpen }

// TimeUntilOpen returns the duration until the next regular open.
func (c *Clock) TimeUntilOpen(t time.Time) time.Duration {
	return c.NextOpen(t).Sub(t)
}

// StatusString returns a human-readable market status.
func (c *Clock) StatusString(t time.Time) string {
	st := c.At(t)
	if st.IsOpen {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(st.NextClose.Sub(t)))
	}
	next := st.NextOpen.In(c.loc)
	return fmt.Sprintf("Market %s, opens %s %s (%s)",
		st.Session, next.Weekday().String()[:3], next.Format("15:04"), fmtDur(st.NextOpen.Sub(t)))
}

func (c *Clock) isTradingDay(d civilDate) bool {
	wd := time.Date(d.year, d.month, d.day, 12, 0, 0, 0, c.loc).Weekday()
	return !isWeekend(wd) && !c.cal.isHoliday(d)
}

// nextTradingDay returns the first trading day strictly after d.
func (c *Clock) nextTradingDay(d civilDate) civilDate {
	t := time.Date(d.year, d.month, d.day, 12, 0, 0, 0, c.loc)
	// A year of consecutive non-trading days means a broken calendar; give
	// up and return the following day rather than loop forever.
	for i := 0; i < 366; i++ {
		t = t.AddDate(0, 0, 1)
		if next := dateOf(t); c.isTradingDay(next) {
			return next
		}
	}
	return dateOf(time.Date(d.year, d.month, d.day+1, 12, 0, 0, 0, c.loc))
}

func (c *Clock) boundary(d civilDate, ct ClockTime) time.Time {
	return time.Date(d.year, d.month, d.day, ct.Hour, ct.Minute, 0, 0, c.loc)
}

// closeBoundaries returns the regular close and after-hours end for d.
// A half-day moves the close; the after-hours window keeps its width.
func (c *Clock) closeBoundaries(d civilDate, halfDay bool) (time.Time, time.Time) {
	if !halfDay {
		return c.boundary(d, c.hours.Close), c.boundary(d, c.hours.AfterHoursEnd)
	}
	closeAt := c.boundary(d, c.hours.HalfDayClose)
	width := c.hours.AfterHoursEnd.offset() - c.hours.Close.offset()
	return closeAt, closeAt.Add(width)
}

func (c *Clock) openOn(d civilDate) time.Time {
	return c.boundary(d, c.hours.Open).UTC()
}

func isWeekend(wd time.Weekday) bool {
	return wd == time.Saturday || wd == time.Sunday
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
