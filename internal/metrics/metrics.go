// Package metrics holds the Prometheus instrumentation of the engine, the
// zerofill scheduler, the change bus and the period calendar.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus collectors of lifelog.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Engine mutations
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	RowsRewritten    prometheus.Counter
	CascadeSeries    prometheus.Counter

	// Series locks
	LockWait     prometheus.Histogram
	LockTimeouts prometheus.Counter

	// Zerofill
	ZerofillSweeps       prometheus.Counter
	ZerofillPoints       prometheus.Counter
	ZerofillFailures     prometheus.Counter
	ZerofillSweepSeconds prometheus.Histogram

	// Change notifications
	EventsPublished *prometheus.CounterVec

	// Calendar memo
	CalendarHits   prometheus.Gauge
	CalendarMisses prometheus.Gauge
	CalendarSize   prometheus.Gauge
}

// NewMetrics creates and registers the collectors on the default registry.
//
// Registration happens once per process; later calls return the same instance.
//
// Metrics:
//   - lifelog_mutations_total{op,result} - engine mutations by outcome
//   - lifelog_mutation_duration_seconds{op} - mutation latency including cascade
//   - lifelog_rows_rewritten_total - datapoint rows written by stats refreshes
//   - lifelog_cascade_series_total - synthetic series re-evaluated by cascades
//   - lifelog_lock_wait_seconds - time spent acquiring series locks
//   - lifelog_lock_timeouts_total - series lock acquisitions that timed out
//   - lifelog_zerofill_* - sweep counts, inserted points, failures, duration
//   - lifelog_events_published_total{result} - change notifications
//   - lifelog_calendar_memo_{hits,misses,size} - month-start memo state
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			MutationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lifelog_mutations_total",
					Help: "Total number of engine mutations",
				},
				[]string{"op", "result"},
			),
			MutationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lifelog_mutation_duration_seconds",
					Help:    "Duration of engine mutations including the dependency cascade",
					Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
				},
				[]string{"op"},
			),
			RowsRewritten: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lifelog_rows_rewritten_total",
				Help: "Total number of datapoint rows rewritten by stats refreshes",
			}),
			CascadeSeries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lifelog_cascade_series_total",
				Help: "Total number of synthetic series re-evaluated by cascades",
			}),
			LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "lifelog_lock_wait_seconds",
				Help:    "Time spent waiting for series locks",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			}),
			LockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lifelog_lock_timeouts_total",
				Help: "Total number of series lock acquisitions that timed out",
			}),
			ZerofillSweeps: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lifelog_zerofill_sweeps_total",
				Help: "Total number of zerofill sweeps",
			}),
			ZerofillPoints: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lifelog_zerofill_points_total",
				Help: "Total number of zero datapoints inserted",
			}),
			ZerofillFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lifelog_zerofill_failures_total",
				Help: "Total number of series the zerofill sweep failed on",
			}),
			ZerofillSweepSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "lifelog_zerofill_sweep_duration_seconds",
				Help:    "Duration of zerofill sweeps",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			}),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lifelog_events_published_total",
					Help: "Total number of change notifications published",
				},
				[]string{"result"},
			),
			CalendarHits: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lifelog_calendar_memo_hits",
				Help: "Month-start memo hits since start",
			}),
			CalendarMisses: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lifelog_calendar_memo_misses",
				Help: "Month-start memo misses since start",
			}),
			CalendarSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lifelog_calendar_memo_size",
				Help: "Number of memoised month starts",
			}),
		}
	})

	return globalMetrics
}

// RecordMutation records one engine mutation
func (m *Metrics) RecordMutation(op string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MutationsTotal.WithLabelValues(op, result).Inc()
	m.MutationDuration.WithLabelValues(op).Observe(took.Seconds())
}

// RecordRowsRewritten counts rows written by a stats refresh
func (m *Metrics) RecordRowsRewritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsRewritten.Add(float64(n))
}

// RecordCascade counts synthetic series re-evaluated by one mutation
func (m *Metrics) RecordCascade(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CascadeSeries.Add(float64(n))
}

// RecordLockWait records a series lock acquisition
func (m *Metrics) RecordLockWait(took time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.LockWait.Observe(took.Seconds())
	if timedOut {
		m.LockTimeouts.Inc()
	}
}

// RecordSweep records a finished zerofill sweep
func (m *Metrics) RecordSweep(points, failures int, took time.Duration) {
	if m == nil {
		return
	}
	m.ZerofillSweeps.Inc()
	m.ZerofillPoints.Add(float64(points))
	m.ZerofillFailures.Add(float64(failures))
	m.ZerofillSweepSeconds.Observe(took.Seconds())
}

// RecordPublish records the outcome of publishing n change events
func (m *Metrics) RecordPublish(n int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(result).Add(float64(n))
}

// CalendarStats is implemented by *calendar.Calendar
type CalendarStats interface {
	Stats() (hits, misses int64, size int)
}

// ObserveCalendar copies the memo counters of cal into the gauges
func (m *Metrics) ObserveCalendar(cal CalendarStats) {
	if m == nil || cal == nil {
		return
	}
	hits, misses, size := cal.Stats()
	m.CalendarHits.Set(float64(hits))
	m.CalendarMisses.Set(float64(misses))
	m.CalendarSize.Set(float64(size))
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
