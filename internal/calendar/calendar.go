// Package calendar maps timestamps onto calendar aligned buckets.
//
// Fixed-length periods are counted from the start of the month the timestamp
// falls in, so buckets never drift across month boundaries. Whole days and
// half days are counted in local calendar dates and stay on midnight or noon
// across daylight saving changes; shorter periods are floored in seconds. Month,
// quarter and year buckets are resolved from month starts directly. Month
// starts are memoised on demand; the memo is a bounded optimisation and
// lookups past the bound are computed without caching.
package calendar

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxEntries bounds the month-start memo (two centuries of months)
const DefaultMaxEntries = 2400

// MonthStart is a memoised month boundary
type MonthStart struct {
	Start   int64        // epoch seconds of the first instant of the month
	Weekday time.Weekday // weekday of that instant
}

// Calendar resolves bucket boundaries in a fixed location
type Calendar struct {
	loc        *time.Location
	firstDay   time.Weekday
	maxEntries int

	mu     sync.RWMutex
	months map[int]MonthStart

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Calendar
type Option func(*Calendar)

// WithLocation sets the location used for month and day boundaries
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithFirstDayOfWeek sets the weekday weeks start on
func WithFirstDayOfWeek(d time.Weekday) Option {
	return func(c *Calendar) {
		c.firstDay = d
	}
}

// WithMaxEntries bounds the number of memoised months
func WithMaxEntries(n int) Option {
	return func(c *Calendar) {
		c.maxEntries = n
	}
}

// New creates a calendar. Defaults: UTC, weeks start on Monday.
func New(opts ...Option) *Calendar {
	c := &Calendar{
		loc:        time.UTC,
		firstDay:   time.Monday,
		maxEntries: DefaultMaxEntries,
		months:     make(map[int]MonthStart),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxEntries < 0 {
		c.maxEntries = 0
	}
	return c
}

// Location returns the calendar location
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// FirstDayOfWeek returns the weekday weeks start on
func (c *Calendar) FirstDayOfWeek() time.Weekday {
	return c.firstDay
}

// PeriodStart returns the first second of the bucket of length p containing ts.
// A non-positive period means "no bucketing" and returns ts.
func (c *Calendar) PeriodStart(ts int64, p Period) int64 {
	if p <= 0 {
		return ts
	}

	idx := c.monthIndex(ts)
	if p.IsCalendar() {
		return c.Month(alignMonth(idx, p.Months())).Start
	}

	start, _ := c.fixedBucket(ts, idx, p)
	return start
}

// PeriodEnd returns the last second of the bucket of length p containing ts
func (c *Calendar) PeriodEnd(ts int64, p Period) int64 {
	if p <= 0 {
		return ts
	}

	idx := c.monthIndex(ts)
	if p.IsCalendar() {
		k := p.Months()
		return c.Month(alignMonth(idx, k)+k).Start - 1
	}

	_, end := c.fixedBucket(ts, idx, p)
	if p == Week {
		return end
	}
	// Fixed buckets restart at every month start, so the last bucket of a
	// month is cut short when p does not divide the month.
	if next := c.Month(idx+1).Start - 1; end > next {
		end = next
	}
	return end
}

// NextPeriodStart returns the first second of the bucket following the one containing ts
func (c *Calendar) NextPeriodStart(ts int64, p Period) int64 {
	if p <= 0 {
		return ts + 1
	}
	return c.PeriodEnd(ts, p) + 1
}

// Bucket returns both boundaries of the bucket containing ts
func (c *Calendar) Bucket(ts int64, p Period) (start, end int64) {
	return c.PeriodStart(ts, p), c.PeriodEnd(ts, p)
}

// Month returns the boundary of the month with absolute index
// year*12 + (month-1), memoising it when the memo has room.
func (c *Calendar) Month(idx int) MonthStart {
	c.mu.RLock()
	m, ok := c.months[idx]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return m
	}

	c.misses.Add(1)
	m = c.computeMonth(idx)

	c.mu.Lock()
	if len(c.months) < c.maxEntries {
		c.months[idx] = m
	}
	c.mu.Unlock()
	return m
}

// Stats reports memo hits, misses and current size
func (c *Calendar) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	size = len(c.months)
	c.mu.RUnlock()
	return c.hits.Load(), c.misses.Load(), size
}

func (c *Calendar) monthIndex(ts int64) int {
	t := time.Unix(ts, 0).In(c.loc)
	return t.Year()*12 + int(t.Month()) - 1
}

func (c *Calendar) computeMonth(idx int) MonthStart {
	year := int(floorDiv(int64(idx), 12))
	month := idx - year*12
	t := time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, c.loc)
	return MonthStart{Start: t.Unix(), Weekday: t.Weekday()}
}

// fixedBucket returns the unclamped boundaries of a fixed-length bucket in
// month idx
func (c *Calendar) fixedBucket(ts int64, idx int, p Period) (start, end int64) {
	switch {
	case p == AmPm:
		y, m, d := time.Unix(ts, 0).In(c.loc).Date()
		noon := time.Date(y, m, d, 12, 0, 0, 0, c.loc).Unix()
		if ts < noon {
			return time.Date(y, m, d, 0, 0, 0, 0, c.loc).Unix(), noon - 1
		}
		return noon, time.Date(y, m, d+1, 0, 0, 0, 0, c.loc).Unix() - 1

	case p%Day == 0:
		days := int64(p / Day)
		ry, rm, rd := c.referenceDate(idx, p)
		y, m, d := time.Unix(ts, 0).In(c.loc).Date()
		k := floorDiv(civilDay(y, m, d)-civilDay(ry, rm, rd), days) * days
		start = time.Date(ry, rm, rd+int(k), 0, 0, 0, 0, c.loc).Unix()
		end = time.Date(ry, rm, rd+int(k+days), 0, 0, 0, 0, c.loc).Unix() - 1
		return start, end
	}

	ref := c.Month(idx).Start
	start = ref + floorDiv(ts-ref, int64(p))*int64(p)
	return start, start + int64(p) - 1
}

// referenceDate returns the local date whole-day buckets are counted from.
// Weeks count from the first configured weekday on or before the month start.
func (c *Calendar) referenceDate(idx int, p Period) (int, time.Month, int) {
	year := int(floorDiv(int64(idx), 12))
	month := time.Month(idx - year*12 + 1)
	if p != Week {
		return year, month, 1
	}
	back := (int(c.Month(idx).Weekday) - int(c.firstDay) + 7) % 7
	return year, month, 1 - back
}

// civilDay numbers local dates consecutively
func civilDay(y int, m time.Month, d int) int64 {
	return floorDiv(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix(), int64(Day))
}

func alignMonth(idx, k int) int {
	return idx - int(floorMod(int64(idx), int64(k)))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
