package models

// CreateSeriesRequest represents create series request
type CreateSeriesRequest struct {
	Name        string     `json:"name" validate:"required,min=1,max=128"`
	Kind        SeriesKind `json:"kind,omitempty" validate:"omitempty,oneof=discrete range synthetic"`
	Period      int64      `json:"period,omitempty"` // seconds
	Method      Method     `json:"method,omitempty" validate:"omitempty,oneof=sum average"`
	Alpha       *float64   `json:"alpha,omitempty"`
	Sensitivity *float64   `json:"sensitivity,omitempty"`
	History     *int       `json:"history,omitempty"`
	Zerofill    bool       `json:"zerofill,omitempty"`
	Formula     string     `json:"formula,omitempty"`
}

// Series converts the request into an unsaved series. Defaults replace the
// settings the request leaves out; explicit values are kept for validation.
func (r *CreateSeriesRequest) Series() *Series {
	s := NewSeries(r.Name)
	s.Period = r.Period
	s.Zerofill = r.Zerofill
	s.Formula = r.Formula
	if r.Kind != "" {
		s.Kind = r.Kind
	}
	if r.Method != "" {
		s.Method = r.Method
	}
	if r.Alpha != nil {
		s.Alpha = *r.Alpha
	}
	if r.Sensitivity != nil {
		s.Sensitivity = *r.Sensitivity
	}
	if r.History != nil {
		s.History = *r.History
	}
	return s
}

// DatapointRequest represents a single datapoint insert. Timestamps are unix
// seconds; TsEnd defaults to TsStart and Entries to 1.
type DatapointRequest struct {
	TsStart int64   `json:"ts_start"`
	TsEnd   *int64  `json:"ts_end,omitempty"`
	Value   float64 `json:"value"`
	Entries int64   `json:"entries,omitempty"`
}

// Datapoint converts the request into an unsaved datapoint
func (r *DatapointRequest) Datapoint() *Datapoint {
	d := &Datapoint{TsStart: r.TsStart, TsEnd: r.TsStart, Value: r.Value, Entries: r.Entries}
	if r.TsEnd != nil {
		d.TsEnd = *r.TsEnd
	}
	if d.Entries == 0 {
		d.Entries = 1
	}
	return d
}

// DatapointBatchRequest represents a batch insert into one series
type DatapointBatchRequest struct {
	Points []DatapointRequest `json:"points" validate:"required,min=1"`
}

// RecordRequest records an event or the start of a recording. A missing
// timestamp means now.
type RecordRequest struct {
	Ts    *int64  `json:"ts,omitempty"`
	Value float64 `json:"value"`
}

// RecordStopRequest closes a recording. A missing value records the duration.
type RecordStopRequest struct {
	Ts    *int64   `json:"ts,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

// FormulaCheckRequest asks whether a formula is valid for a series
type FormulaCheckRequest struct {
	Formula string `json:"formula"`
	Series  string `json:"series,omitempty"` // name of the series the formula would belong to
}
