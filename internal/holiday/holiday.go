// Package holiday resolves whether a point in time falls on a configured
// holiday. Exact dates, annually recurring dates and whole weekdays are
// supported.
package holiday

import (
	"fmt"
	"strings"
	"time"
)

const (
	exactLayout  = "2006-01-02"
	annualLayout = "01-02"
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Calendar answers holiday lookups against a fixed rule set.
type Calendar struct {
	exact    map[string]struct{}
	annual   map[string]struct{}
	weekdays map[time.Weekday]struct{}
}

// NewCalendar parses the configured holiday rules. Dates use either the
// exact "2006-01-02" form or the annually recurring "01-02" form; weekday
// names are case-insensitive English.
func NewCalendar(dates, weekdays []string) (*Calendar, error) {
	c := &Calendar{
		exact:    make(map[string]struct{}),
		annual:   make(map[string]struct{}),
		weekdays: make(map[time.Weekday]struct{}),
	}

	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.Parse(exactLayout, d); err == nil {
			c.exact[d] = struct{}{}
			continue
		}
		if _, err := time.Parse(annualLayout, d); err == nil {
			c.annual[d] = struct{}{}
			continue
		}
		return nil, fmt.Errorf("invalid holiday date %q: want %s or %s", d, exactLayout, annualLayout)
	}

	for _, w := range weekdays {
		name := strings.ToLower(strings.TrimSpace(w))
		if name == "" {
			continue
		}
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("invalid holiday weekday %q", w)
		}
		c.weekdays[day] = struct{}{}
	}

	return c, nil
}

// IsHoliday reports whether t falls on any configured holiday rule,
// evaluated in t's own location.
func (c *Calendar) IsHoliday(t time.Time) bool {
	if _, ok := c.exact[t.Format(exactLayout)]; ok {
		return true
	}
	if _, ok := c.annual[t.Format(annualLayout)]; ok {
		return true
	}
	_, ok := c.weekdays[t.Weekday()]
	return ok
}

// Rules returns the number of configured holiday rules.
func (c *Calendar) Rules() int {
	return len(c.exact) + len(c.annual) + len(c.weekdays)
}
