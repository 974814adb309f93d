package models

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Store     string `json:"store,omitempty"`
}

// SeriesListResponse represents list series response
type SeriesListResponse struct {
	Series []*Series `json:"series"`
	Count  int       `json:"count"`
}

// DependencyResponse lists the edges of one series
type DependencyResponse struct {
	SeriesID   int64   `json:"series_id"`
	Sources    []int64 `json:"sources"`
	Dependents []int64 `json:"dependents"`
}

// BatchResponse represents batch insert response
type BatchResponse struct {
	IDs   []int64 `json:"ids"`
	Count int     `json:"count"`
}

// PointView is one query result row. For raw queries it is the datapoint
// itself; for other granularities it is the bucket the row projects to.
type PointView struct {
	ID      int64   `json:"id"`
	TsStart int64   `json:"ts_start"`
	TsEnd   int64   `json:"ts_end"`
	Value   float64 `json:"value"`
	Entries int64   `json:"entries"`
	Trend   float64 `json:"trend"`
	StdDev  float64 `json:"stddev"`
}

// NewPointView projects d to granularity g
func NewPointView(d *Datapoint, g Granularity) PointView {
	sh := d.Shadow(g)
	if g.IsRaw() {
		return PointView{
			ID:      d.ID,
			TsStart: d.TsStart,
			TsEnd:   d.TsEnd,
			Value:   d.Value,
			Entries: d.Entries,
			Trend:   sh.Trend,
			StdDev:  sh.StdDev,
		}
	}
	return PointView{
		ID:      d.ID,
		TsStart: sh.BucketStart,
		TsEnd:   sh.BucketEnd,
		Value:   sh.Value,
		Entries: sh.Entries,
		Trend:   sh.Trend,
		StdDev:  sh.StdDev,
	}
}

// QueryResponse represents query response
type QueryResponse struct {
	SeriesID    int64       `json:"series_id"`
	Granularity Granularity `json:"granularity"`
	Points      []PointView `json:"points"`
	Count       int         `json:"count"`
}

// NewQueryResponse builds a response from store rows
func NewQueryResponse(seriesID int64, g Granularity, rows []*Datapoint) QueryResponse {
	points := make([]PointView, len(rows))
	for i, d := range rows {
		points[i] = NewPointView(d, g)
	}
	return QueryResponse{SeriesID: seriesID, Granularity: g, Points: points, Count: len(points)}
}

// FormulaCheckResponse reports the result of a formula check
type FormulaCheckResponse struct {
	Valid      bool         `json:"valid"`
	Formula    string       `json:"formula,omitempty"` // canonical form
	Dependents []string     `json:"dependents,omitempty"`
	Missing    []string     `json:"missing,omitempty"` // referenced series that do not exist
	Error      *ErrorDetail `json:"error,omitempty"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Path      string                 `json:"path,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
