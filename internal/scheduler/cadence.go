package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"market-syncv1/internal/markethours"
	"market-syncv1/internal/model"
)

// CadenceTable maps each session to the minimum refresh interval of every
// data class. Intervals shrink while the market is open.
type CadenceTable map[markethours.Session]map[model.DataClass]time.Duration

// DefaultCadences returns the built-in table.
func DefaultCadences() CadenceTable {
	return CadenceTable{
		markethours.SessionPremarket: {
			model.ClassQuotes:     5 * time.Minute,
			model.ClassIndicators: 60 * time.Minute,
		},
		markethours.SessionOpen: {
			model.ClassQuotes:     2 * time.Minute,
			model.ClassIndicators: 30 * time.Minute,
		},
		markethours.SessionAfterHours: {
			model.ClassQuotes:     15 * time.Minute,
			model.ClassIndicators: 60 * time.Minute,
		},
		markethours.SessionClosed: {
			model.ClassQuotes:     60 * time.Minute,
			model.ClassIndicators: 240 * time.Minute,
		},
	}
}

// Cadence returns the interval for class in session.
func (t CadenceTable) Cadence(s markethours.Session, c model.DataClass) (time.Duration, bool) {
	d, ok := t[s][c]
	return d, ok
}

// Validate checks that every session has a positive cadence for every
// class in classes.
func (t CadenceTable) Validate(classes []model.DataClass) error {
	var errs []error
	for _, s := range markethours.Sessions {
		for _, c := range classes {
			d, ok := t.Cadence(s, c)
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("no cadence for %s in %s", c, s))
			case d <= 0:
				errs = append(errs, fmt.Errorf("cadence for %s in %s must be positive, got %v", c, s, d))
			}
		}
	}
	return errors.Join(errs...)
}

// Override replaces the cadences of session with those in m.
func (t CadenceTable) Override(s markethours.Session, m map[model.DataClass]time.Duration) {
	if t[s] == nil {
		t[s] = make(map[model.DataClass]time.Duration, len(m))
	}
	for c, d := range m {
		t[s][c] = d
	}
}

// ParseCadences parses "class:minutes,..." e.g. "quotes:2,indicators:30".
func ParseCadences(v string) (map[model.DataClass]time.Duration, error) {
	out := make(map[model.DataClass]time.Duration)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, mins, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("cadence %q: want class:minutes", part)
		}
		c, err := model.ParseDataClass(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(mins))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("cadence %q: minutes must be a positive integer", part)
		}
		out[c] = time.Duration(n) * time.Minute
	}
	return out, nil
}
