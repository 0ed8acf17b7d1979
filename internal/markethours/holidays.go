package markethours

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCalendar is returned when calendar configuration is malformed.
var ErrInvalidCalendar = errors.New("invalid market calendar")

// DayKind classifies a calendar entry.
type DayKind string

const (
	Holiday DayKind = "holiday"
	HalfDay DayKind = "half-day"
)

// CalendarEntry is one configured non-regular trading date.
// Date is a civil date in the market timezone, formatted 2006-01-02.
type CalendarEntry struct {
	Date string  `yaml:"date"`
	Kind DayKind `yaml:"kind"`
	Name string  `yaml:"name,omitempty"`
}

// civilDate is a calendar date with no time or zone attached.
type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

func (d civilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.year, d.month, d.day)
}

// Calendar is the set of holidays and half-days for one market.
// It is immutable once built.
type Calendar struct {
	days    map[civilDate]CalendarEntry
	entries []CalendarEntry
}

// NewCalendar validates entries and builds a Calendar.
// Unparsable dates, unknown kinds, duplicate dates and half-days that fall on
// a weekend are rejected.
func NewCalendar(entries []CalendarEntry) (*Calendar, error) {
	cal := &Calendar{days: make(map[civilDate]CalendarEntry, len(entries))}
	var problems []error
	for _, e := range entries {
		t, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			problems = append(problems, fmt.Errorf("date %q: %w", e.Date, err))
			continue
		}
		if e.Kind != Holiday && e.Kind != HalfDay {
			problems = append(problems, fmt.Errorf("date %s: unknown kind %q", e.Date, e.Kind))
			continue
		}
		d := dateOf(t)
		if prev, dup := cal.days[d]; dup {
			problems = append(problems, fmt.Errorf("date %s listed twice (%s, %s)", e.Date, prev.Kind, e.Kind))
			continue
		}
		if e.Kind == HalfDay && isWeekend(t.Weekday()) {
			problems = append(problems, fmt.Errorf("half-day %s falls on a %s", e.Date, t.Weekday()))
			continue
		}
		cal.days[d] = e
		cal.entries = append(cal.entries, e)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCalendar, errors.Join(problems...))
	}
	sort.Slice(cal.entries, func(i, j int) bool { return cal.entries[i].Date < cal.entries[j].Date })
	return cal, nil
}

type calendarFile struct {
	Days []CalendarEntry `yaml:"days"`
}

// LoadCalendar reads a YAML calendar file and expands ${VAR} references.
//
//	days:
//	  - {date: 2026-11-26, kind: holiday, name: Thanksgiving}
//	  - {date: 2026-11-27, kind: half-day}
func LoadCalendar(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}
	var f calendarFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse calendar yaml: %w", err)
	}
	return NewCalendar(f.Days)
}

// Entries returns the calendar entries sorted by date.
func (c *Calendar) Entries() []CalendarEntry {
	out := make([]CalendarEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Calendar) kind(d civilDate) (DayKind, bool) {
	if c == nil {
		return "", false
	}
	e, ok := c.days[d]
	return e.Kind, ok
}

func (c *Calendar) isHoliday(d civilDate) bool {
	k, ok := c.kind(d)
	return ok && k == Holiday
}

func (c *Calendar) isHalfDay(d civilDate) bool {
	k, ok := c.kind(d)
	return ok && k == HalfDay
}

// NYSE holidays and early closes for 2025 and 2026.
// Source: NYSE published holiday calendar.
var nyseDays = []CalendarEntry{
	{"2025-01-01", Holiday, "New Year's Day"},
	{"2025-01-09", Holiday, "National Day of Mourning"},
	{"2025-01-20", Holiday, "Martin Luther King Jr. Day"},
	{"2025-02-17", Holiday, "Washington's Birthday"},
	{"2025-04-18", Holiday, "Good Friday"},
	{"2025-05-26", Holiday, "Memorial Day"},
	{"2025-06-19", Holiday, "Juneteenth"},
	{"2025-07-03", HalfDay, "Independence Day eve"},
	{"2025-07-04", Holiday, "Independence Day"},
	{"2025-09-01", Holiday, "Labor Day"},
	{"2025-11-27", Holiday, "Thanksgiving Day"},
	{"2025-11-28", HalfDay, "Day after Thanksgiving"},
	{"2025-12-24", HalfDay, "Christmas Eve"},
	{"2025-12-25", Holiday, "Christmas Day"},

	{"2026-01-01", Holiday, "New Year's Day"},
	{"2026-01-19", Holiday, "Martin Luther King Jr. Day"},
	{"2026-02-16", Holiday, "Washington's Birthday"},
	{"2026-04-03", Holiday, "Good Friday"},
	{"2026-05-25", Holiday, "Memorial Day"},
	{"2026-06-19", Holiday, "Juneteenth"},
	{"2026-07-03", Holiday, "Independence Day (observed)"},
	{"2026-09-07", Holiday, "Labor Day"},
	{"2026-11-26", Holiday, "Thanksgiving Day"},
	{"2026-11-27", HalfDay, "Day after Thanksgiving"},
	{"2026-12-24", HalfDay, "Christmas Eve"},
	{"2026-12-25", Holiday, "Christmas Day"},
}

// DefaultCalendar returns the built-in NYSE calendar.
func DefaultCalendar() *Calendar {
	cal, err := NewCalendar(nyseDays)
	if err != nil {
		panic(err)
	}
	return cal
}
