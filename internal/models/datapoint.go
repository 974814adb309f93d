package models

import (
	"fmt"

	"github.com/lifelog/lifelog/internal/calendar"
)

// Granularity is an aggregation level maintained on every datapoint
type Granularity string

const (
	GranularityRaw     Granularity = "raw"
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// Granularities lists every maintained granularity, finest first
var Granularities = []Granularity{
	GranularityRaw,
	GranularityDay,
	GranularityWeek,
	GranularityMonth,
	GranularityQuarter,
	GranularityYear,
}

// Period returns the bucket length of the granularity, 0 for raw
func (g Granularity) Period() calendar.Period {
	switch g {
	case GranularityDay:
		return calendar.Day
	case GranularityWeek:
		return calendar.Week
	case GranularityMonth:
		return calendar.Month
	case GranularityQuarter:
		return calendar.Quarter
	case GranularityYear:
		return calendar.Year
	}
	return 0
}

// IsRaw reports whether g is the raw granularity
func (g Granularity) IsRaw() bool {
	return g == GranularityRaw
}

// ParseGranularity resolves a granularity name. An empty name selects raw.
func ParseGranularity(s string) (Granularity, error) {
	if s == "" {
		return GranularityRaw, nil
	}
	for _, g := range Granularities {
		if string(g) == s {
			return g, nil
		}
	}
	return "", NewError(CodeInvalidArgument, fmt.Sprintf("unknown granularity %q", s))
}

// Shadow is the aggregate projection of a datapoint at one granularity.
//
// Every row of a bucket carries the same bucket value. Trend and StdDev are
// the running statistics at the bucket; the Sum* fields are prefix sums over
// the granularity's sequence used to slide the stddev window.
type Shadow struct {
	BucketStart int64   `json:"bucket_start"`
	BucketEnd   int64   `json:"bucket_end"`
	Value       float64 `json:"value"`
	Entries     int64   `json:"entries"`
	Trend       float64 `json:"trend"`
	StdDev      float64 `json:"stddev"`
	SumValue    float64 `json:"sum_value"`
	SumEntries  float64 `json:"sum_entries"`
	SumValueSqr float64 `json:"sum_value_sqr"`
}

// Datapoint is a single recorded value of a series
type Datapoint struct {
	ID       int64                  `json:"id"`
	SeriesID int64                  `json:"series_id"`
	TsStart  int64                  `json:"ts_start"`
	TsEnd    int64                  `json:"ts_end"`
	Value    float64                `json:"value"`
	Entries  int64                  `json:"entries"`
	Open     bool                   `json:"open,omitempty"`
	Shadows  map[Granularity]Shadow `json:"shadows,omitempty"`
}

// Shadow returns the projection at g
func (d *Datapoint) Shadow(g Granularity) Shadow {
	return d.Shadows[g]
}

// SetShadow stores the projection at g
func (d *Datapoint) SetShadow(g Granularity, s Shadow) {
	if d.Shadows == nil {
		d.Shadows = make(map[Granularity]Shadow, len(Granularities))
	}
	d.Shadows[g] = s
}

// Clone returns a deep copy
func (d *Datapoint) Clone() *Datapoint {
	c := *d
	if d.Shadows != nil {
		c.Shadows = make(map[Granularity]Shadow, len(d.Shadows))
		for g, s := range d.Shadows {
			c.Shadows[g] = s
		}
	}
	return &c
}

// Validate checks the row fields of a datapoint
func (d *Datapoint) Validate() error {
	if d.Entries < 1 {
		return NewError(CodeInvalidArgument, "entries must be at least 1")
	}
	if !d.Open && d.TsEnd < d.TsStart {
		return NewError(CodeInvalidArgument, "ts_end must not precede ts_start")
	}
	return nil
}

// DatapointUpdate carries changed datapoint fields. Nil fields are left as is.
type DatapointUpdate struct {
	TsStart *int64   `json:"ts_start,omitempty"`
	TsEnd   *int64   `json:"ts_end,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Entries *int64   `json:"entries,omitempty"`
}

// Apply copies the set fields onto d. A Discrete datapoint keeps TsEnd equal to TsStart.
func (u *DatapointUpdate) Apply(d *Datapoint, kind SeriesKind) {
	if u.TsStart != nil {
		d.TsStart = *u.TsStart
		if kind == KindDiscrete {
			d.TsEnd = d.TsStart
		}
	}
	if u.TsEnd != nil && kind != KindDiscrete {
		d.TsEnd = *u.TsEnd
	}
	if u.Value != nil {
		d.Value = *u.Value
	}
	if u.Entries != nil {
		d.Entries = *u.Entries
	}
}

// Edge is a dependency of a synthetic series on a source series
type Edge struct {
	ResultID int64 `json:"result_id"`
	SourceID int64 `json:"source_id"`
}
