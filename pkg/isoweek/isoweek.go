// Package isoweek implements ISO-8601 week arithmetic in UTC.
package isoweek

import (
	"fmt"
	"time"
)

// Week identifies an ISO-8601 week. The zero value is not a valid week.
type Week struct {
	Year int `json:"year"`
	Week int `json:"week"`
}

// Of returns the ISO week containing t (evaluated in UTC).
func Of(t time.Time) Week {
	y, w := t.UTC().ISOWeek()
	return Week{Year: y, Week: w}
}

// New validates and returns a week.
func New(year, week int) (Week, error) {
	if week < 1 || week > WeeksInYear(year) {
		return Week{}, fmt.Errorf("week %d out of range for %d (1..%d)", week, year, WeeksInYear(year))
	}
	return Week{Year: year, Week: week}, nil
}

// WeeksInYear returns 52 or 53. December 28th always falls in the last ISO week.
func WeeksInYear(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// Prev returns the preceding week, wrapping week 1 to the last week of the
// previous year.
func (w Week) Prev() Week {
	if w.Week <= 1 {
		return Week{Year: w.Year - 1, Week: WeeksInYear(w.Year - 1)}
	}
	return Week{Year: w.Year, Week: w.Week - 1}
}

// Next returns the following week.
func (w Week) Next() Week {
	if w.Week >= WeeksInYear(w.Year) {
		return Week{Year: w.Year + 1, Week: 1}
	}
	return Week{Year: w.Year, Week: w.Week + 1}
}

// Start returns Monday 00:00 UTC of the week.
func (w Week) Start() time.Time {
	// January 4th is always in week 1.
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (w.Week-1)*7)
}

// End returns the last instant of Sunday of the week.
func (w Week) End() time.Time {
	return w.Start().AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// Before reports whether w is earlier than o.
func (w Week) Before(o Week) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Week < o.Week
}

// Parse reads the "2024-W07" form produced by String.
func Parse(s string) (Week, error) {
	var year, week int
	if _, err := fmt.Sscanf(s, "%d-W%d", &year, &week); err != nil {
		return Week{}, fmt.Errorf("parsing week %q: expected YYYY-Www", s)
	}
	return New(year, week)
}

func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Week)
}

// LastN returns n weeks ending at (and including) end, oldest first.
func LastN(end Week, n int) []Week {
	if n <= 0 {
		return []Week{}
	}
	out := make([]Week, n)
	cur := end
	for i := n - 1; i >= 0; i-- {
		out[i] = cur
		cur = cur.Prev()
	}
	return out
}
