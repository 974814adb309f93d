package sqlstore

// Table and column names
const (
	tableSeries       = "series"
	tableDatapoints   = "datapoints"
	tableDependencies = "dependencies"

	seriesColumns = "id, name, kind, period, method, alpha, sensitivity, history, " +
		"zerofill, formula, recording_id, created_at, updated_at"

	datapointRowColumns = "id, series_id, ts_start, ts_end, value, entries, is_open"

	// shadow columns, 9 per granularity in models.Granularities order:
	// start, end, value, entries, trend, stddev, sum_value, sum_entries, sum_value_sqr
	datapointShadowColumns = "raw_start, raw_end, raw_value, raw_entries, raw_trend, raw_stddev, raw_sum_value, raw_sum_entries, raw_sum_value_sqr" +
		", " +
		"day_start, day_end, day_value, day_entries, day_trend, day_stddev, day_sum_value, day_sum_entries, day_sum_value_sqr" +
		", " +
		"week_start, week_end, week_value, week_entries, week_trend, week_stddev, week_sum_value, week_sum_entries, week_sum_value_sqr" +
		", " +
		"month_start, month_end, month_value, month_entries, month_trend, month_stddev, month_sum_value, month_sum_entries, month_sum_value_sqr" +
		", " +
		"quarter_start, quarter_end, quarter_value, quarter_entries, quarter_trend, quarter_stddev, quarter_sum_value, quarter_sum_entries, quarter_sum_value_sqr" +
		", " +
		"year_start, year_end, year_value, year_entries, year_trend, year_stddev, year_sum_value, year_sum_entries, year_sum_value_sqr"

	datapointColumns = datapointRowColumns + ", " + datapointShadowColumns

	// datapointMutableColumns are written by INSERT and UPDATE (everything but id)
	datapointMutableColumns = "series_id, ts_start, ts_end, value, entries, is_open, " + datapointShadowColumns
)

const shadowFieldCount = 9
