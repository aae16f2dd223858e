// Package calendar provides business-day arithmetic for response deadlines.
// A business day is a weekday that is not in the configured holiday set.
// Everything here is deterministic so the scheduler and read-side diagnostics
// always agree on what counts as overdue.
package calendar

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

type Calendar struct {
	holidays map[string]bool
}

// New builds a calendar from holiday dates in YYYY-MM-DD form.
func New(holidays []string) (Calendar, error) {
	set := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		if _, err := time.Parse(dayLayout, h); err != nil {
			return Calendar{}, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		set[h] = true
	}
	return Calendar{holidays: set}, nil
}

// IsBusinessDay reports whether t falls on a weekday outside the holiday set.
func (c Calendar) IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[t.Format(dayLayout)]
}

// AddBusinessDays advances t by n business days, skipping weekends and
// holidays. n must be non-negative.
func (c Calendar) AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if c.IsBusinessDay(t) {
			n--
		}
	}
	return t
}

// Deadline returns the moment an open request becomes overdue.
func (c Calendar) Deadline(notifiedAt time.Time, windowDays int) time.Time {
	return c.AddBusinessDays(notifiedAt, windowDays)
}

// IsOverdue reports whether now has reached the business-day deadline for a
// request notified at notifiedAt.
func (c Calendar) IsOverdue(notifiedAt time.Time, windowDays int, now time.Time) bool {
	return !now.Before(c.Deadline(notifiedAt, windowDays))
}
