// Package calendar holds the public-holiday calendar and the calendar features
// derived from an hourly timestamp.
package calendar

import (
	"fmt"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
)

// Holiday is one row of the holidays table.
type Holiday struct {
	Date time.Time `db:"date" json:"date"`
	Name string    `db:"name" json:"name"`
	Year int       `db:"year" json:"year"`
}

// Key returns the calendar date of the holiday as YYYY-MM-DD.
func (h Holiday) Key() string {
	return h.Date.Format(common.DateLayout)
}

// HolidaySet answers "is this UTC date a holiday".
type HolidaySet struct {
	dates map[string]string
}

// NewHolidaySet indexes holidays by calendar date.
func NewHolidaySet(holidays []Holiday) HolidaySet {
	dates := make(map[string]string, len(holidays))
	for _, h := range holidays {
		dates[h.Key()] = h.Name
	}
	return HolidaySet{dates: dates}
}

// Contains reports whether the UTC calendar date of ts is a holiday.
func (s HolidaySet) Contains(ts time.Time) bool {
	_, ok := s.dates[ts.UTC().Format(common.DateLayout)]
	return ok
}

// Len returns the number of distinct holiday dates.
func (s HolidaySet) Len() int {
	return len(s.dates)
}

// RefreshCutoff is the month/day from which the holiday calendar is re-fetched so
// that it covers the coming year.
type RefreshCutoff struct {
	Month time.Month
	Day   int
}

// DefaultRefreshCutoff is December 30th.
var DefaultRefreshCutoff = RefreshCutoff{Month: time.December, Day: 30}

// ParseRefreshCutoff parses "MM-DD".
func ParseRefreshCutoff(s string) (RefreshCutoff, error) {
	ts, err := time.Parse("01-02", s)
	if err != nil {
		return RefreshCutoff{}, fmt.Errorf("invalid holiday refresh cutoff %q: %w", s, err)
	}
	return RefreshCutoff{Month: ts.Month(), Day: ts.Day()}, nil
}

// ShouldRefreshHolidays is the yearly maintenance trigger: true when the UTC
// month/day of now is at or after the cutoff.
func ShouldRefreshHolidays(now time.Time, cutoff RefreshCutoff) bool {
	now = now.UTC()
	if now.Month() != cutoff.Month {
		return now.Month() > cutoff.Month
	}
	return now.Day() >= cutoff.Day
}
