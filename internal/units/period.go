package units

import (
	"fmt"
	"time"
)

// PeriodLayout is the year-month marker format stored on usage accounts.
const PeriodLayout = "2006-01"

// Period is a calendar month marker such as "2026-10".
type Period string

// PeriodOf returns the calendar month containing t, evaluated in loc.
// A nil loc means UTC.
func PeriodOf(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	return Period(t.In(loc).Format(PeriodLayout))
}

// ParsePeriod validates a marker string.
func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse(PeriodLayout, s); err != nil {
		return "", fmt.Errorf("invalid period %q: %w", s, err)
	}
	return Period(s), nil
}

// UnmarshalText validates markers decoded from stored JSON. An empty marker
// is kept as is and triggers a reset on the next access.
func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = ""
		return nil
	}
	v, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// String implements fmt.Stringer.
func (p Period) String() string { return string(p) }

// Before reports whether p is an earlier month than other. Markers are
// zero-padded so lexical order matches calendar order; an empty marker sorts
// before everything.
func (p Period) Before(other Period) bool {
	return p < other
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time
