package capsule

import (
	"fmt"
	"regexp"
	"time"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

// Date is a zone-less calendar date in zero-padded YYYY-MM-DD form.
// Lexical order equals chronological order, which lets stores compare the
// column as text.
type Date string

var reDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate validates s as a real calendar date in DateLayout.
func ParseDate(s string) (Date, error) {
	if !reDate.MatchString(s) {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

func (d Date) String() string { return string(d) }

func (d Date) Before(o Date) bool     { return d < o }
func (d Date) After(o Date) bool      { return d > o }
func (d Date) OnOrBefore(o Date) bool { return d <= o }

// Valid reports whether d is well formed.
func (d Date) Valid() bool {
	_, err := ParseDate(string(d))
	return err == nil
}

// AddDays shifts d by n calendar days. d must be valid.
func (d Date) AddDays(n int) Date {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return d
	}
	return Date(t.AddDate(0, 0, n).Format(DateLayout))
}
