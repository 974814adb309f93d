package calendar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Period is a bucket length in seconds.
//
// Periods shorter than Month are fixed-length. Month, Quarter and Year are
// nominal values used as identifiers; their real length follows the calendar.
type Period int64

const (
	Minute  Period = 60
	Hour    Period = 60 * Minute
	AmPm    Period = 12 * Hour
	Day     Period = 24 * Hour
	Week    Period = 7 * Day
	Month   Period = 30 * Day
	Quarter Period = 91 * Day
	Year    Period = 365 * Day
)

var periodNames = []struct {
	name   string
	period Period
}{
	{"minute", Minute},
	{"hour", Hour},
	{"ampm", AmPm},
	{"day", Day},
	{"week", Week},
	{"month", Month},
	{"quarter", Quarter},
	{"year", Year},
}

// String returns the keyword for named periods and the second count otherwise
func (p Period) String() string {
	for _, n := range periodNames {
		if n.period == p {
			return n.name
		}
	}
	return strconv.FormatInt(int64(p), 10) + "s"
}

// Seconds returns the period length in seconds
func (p Period) Seconds() int64 {
	return int64(p)
}

// IsCalendar reports whether the period is month based
func (p Period) IsCalendar() bool {
	return p >= Month
}

// Months returns the number of calendar months covered by a month based period
func (p Period) Months() int {
	switch p {
	case Month:
		return 1
	case Quarter:
		return 3
	case Year:
		return 12
	}
	n := int(math.Round(float64(p) / float64(Month)))
	if n < 1 {
		n = 1
	}
	return n
}

// LookupPeriod resolves a period keyword
func LookupPeriod(name string) (Period, bool) {
	name = strings.ToLower(name)
	for _, n := range periodNames {
		if n.name == name {
			return n.period, true
		}
	}
	return 0, false
}

// ParsePeriod accepts a keyword ("week"), a second count ("3600") or a
// duration with an "s" suffix ("900s").
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if p, ok := LookupPeriod(s); ok {
		return p, nil
	}
	secs, err := strconv.ParseInt(strings.TrimSuffix(s, "s"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	if secs < 0 {
		return 0, fmt.Errorf("period must not be negative: %d", secs)
	}
	return Period(secs), nil
}
