package models

import (
	"fmt"
	"strings"
	"time"
)

// SeriesKind classifies how datapoints of a series are produced
type SeriesKind string

const (
	// KindDiscrete series receive point events
	KindDiscrete SeriesKind = "discrete"
	// KindRange series receive start/stop pairs
	KindRange SeriesKind = "range"
	// KindSynthetic series are computed from a formula
	KindSynthetic SeriesKind = "synthetic"
)

// Method is the aggregation method used to fold bucket values
type Method string

const (
	MethodSum     Method = "sum"
	MethodAverage Method = "average"
)

// Series defaults applied when a create request leaves a setting out
const (
	DefaultAlpha       = 0.5
	DefaultHistory     = 7
	DefaultSensitivity = 1.0
	MaxSeriesNameLen   = 128
)

// Series is a named stream of datapoints with its aggregation settings
type Series struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Kind        SeriesKind `json:"kind"`
	Period      int64      `json:"period"` // aggregation period in seconds, 0 = none
	Method      Method     `json:"method"`
	Alpha       float64    `json:"alpha"`
	Sensitivity float64    `json:"sensitivity"`
	History     int        `json:"history"`
	Zerofill    bool       `json:"zerofill"`
	Formula     string     `json:"formula,omitempty"`
	RecordingID int64      `json:"recording_id,omitempty"` // open datapoint of a range series, 0 when idle
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsRecording reports whether a range series has an open datapoint
func (s *Series) IsRecording() bool {
	return s.RecordingID != 0
}

// ZerofillEligible reports whether the zerofill sweep applies to the series
func (s *Series) ZerofillEligible() bool {
	return s.Zerofill && s.Period > 0 && s.Kind != KindSynthetic && !s.IsRecording()
}

// NewSeries returns a discrete series summing its values with the default
// smoothing, sensitivity and history window
func NewSeries(name string) *Series {
	return &Series{
		Name:        name,
		Kind:        KindDiscrete,
		Method:      MethodSum,
		Alpha:       DefaultAlpha,
		Sensitivity: DefaultSensitivity,
		History:     DefaultHistory,
	}
}

// ApplyDefaults fills an empty kind and method. Numeric settings are taken as
// given: a zero alpha or history is invalid, not unset.
func (s *Series) ApplyDefaults() {
	if s.Kind == "" {
		s.Kind = KindDiscrete
	}
	if s.Method == "" {
		s.Method = MethodSum
	}
}

// Validate checks series settings
func (s *Series) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return NewError(CodeInvalidArgument, "series name is required")
	}
	if len(name) > MaxSeriesNameLen {
		return NewError(CodeInvalidArgument, fmt.Sprintf("series name exceeds %d characters", MaxSeriesNameLen))
	}
	switch s.Kind {
	case KindDiscrete, KindRange, KindSynthetic:
	default:
		return NewError(CodeInvalidArgument, fmt.Sprintf("unknown series kind %q", s.Kind))
	}
	switch s.Method {
	case MethodSum, MethodAverage:
	default:
		return NewError(CodeInvalidArgument, fmt.Sprintf("unknown aggregation method %q", s.Method))
	}
	if s.Period < 0 {
		return NewError(CodeInvalidArgument, "period must not be negative")
	}
	if !(s.Alpha > 0 && s.Alpha <= 1) {
		return NewError(CodeInvalidArgument, "alpha must be in (0, 1]")
	}
	if s.Sensitivity < 0 {
		return NewError(CodeInvalidArgument, "sensitivity must not be negative")
	}
	if s.History < 1 {
		return NewError(CodeInvalidArgument, "history must be at least 1")
	}
	if s.Kind == KindSynthetic && strings.TrimSpace(s.Formula) == "" {
		return NewError(CodeInvalidArgument, "synthetic series require a formula")
	}
	if s.Kind != KindSynthetic && s.Formula != "" {
		return NewError(CodeInvalidArgument, "only synthetic series carry a formula")
	}
	return nil
}

// SeriesUpdate carries the settings changed by an update. Nil fields are left as is.
type SeriesUpdate struct {
	Name        *string  `json:"name,omitempty"`
	Period      *int64   `json:"period,omitempty"`
	Method      *Method  `json:"method,omitempty"`
	Alpha       *float64 `json:"alpha,omitempty"`
	Sensitivity *float64 `json:"sensitivity,omitempty"`
	History     *int     `json:"history,omitempty"`
	Zerofill    *bool    `json:"zerofill,omitempty"`
	Formula     *string  `json:"formula,omitempty"`
}

// Apply copies the set fields onto s and reports whether the aggregates
// must be rebuilt and whether the formula changed.
func (u *SeriesUpdate) Apply(s *Series) (rebuild, formulaChanged bool) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Period != nil && *u.Period != s.Period {
		s.Period = *u.Period
		rebuild = true
	}
	if u.Method != nil && *u.Method != s.Method {
		s.Method = *u.Method
		rebuild = true
	}
	if u.Alpha != nil && *u.Alpha != s.Alpha {
		s.Alpha = *u.Alpha
		rebuild = true
	}
	if u.Sensitivity != nil {
		s.Sensitivity = *u.Sensitivity
	}
	if u.History != nil && *u.History != s.History {
		s.History = *u.History
		rebuild = true
	}
	if u.Zerofill != nil {
		s.Zerofill = *u.Zerofill
	}
	if u.Formula != nil && *u.Formula != s.Formula {
		s.Formula = *u.Formula
		formulaChanged = true
	}
	return rebuild, formulaChanged
}
