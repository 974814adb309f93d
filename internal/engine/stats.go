package engine

import (
	"math"

	"github.com/lifelog/lifelog/internal/models"
)

// element is one entry of a granularity's sequence: a raw row or a bucket
type element struct {
	start, end int64
	sum        float64 // Σ Value of the rows folded in
	entries    int64   // Σ Entries of the rows folded in
}

// value returns the element value under the aggregation method
func (el element) value(method models.Method) float64 {
	if method == models.MethodAverage && el.entries > 0 {
		return el.sum / float64(el.entries)
	}
	return el.sum
}

// accumulator carries the running state of one granularity's sequence.
//
// window holds the prefix snapshots of the most recent history elements,
// oldest first; window[0] is the element whose sums leave the window next.
type accumulator struct {
	alpha   float64
	history int
	method  models.Method

	prev    models.Shadow
	hasPrev bool
	window  []models.Shadow
}

// newAccumulator seeds the state from predecessors, newest first, as
// returned by QueryBefore. Only the first history predecessors are used.
func newAccumulator(s *models.Series, g models.Granularity, before []*models.Datapoint) *accumulator {
	acc := &accumulator{
		alpha:   s.Alpha,
		history: s.History,
		method:  s.Method,
	}
	if acc.history < 1 {
		acc.history = 1
	}
	n := len(before)
	if n > acc.history {
		n = acc.history
	}
	acc.window = make([]models.Shadow, 0, acc.history+1)
	for i := n - 1; i >= 0; i-- {
		acc.window = append(acc.window, before[i].Shadow(g))
	}
	if n > 0 {
		acc.prev, acc.hasPrev = acc.window[n-1], true
	}
	return acc
}

// next folds el into the sequence and returns its shadow.
//
// Trend follows T(n) = T(n-1) + α(V(n) - T(n-1)), seeded with the first
// value. SumValue, SumValueSqr and SumEntries are prefix sums over the
// sequence with SumEntries counting elements; the window statistics are the
// difference to the snapshot history elements back.
func (a *accumulator) next(el element) models.Shadow {
	v := a.value(el)
	sh := models.Shadow{
		BucketStart: el.start,
		BucketEnd:   el.end,
		Value:       v,
		Entries:     el.entries,
	}

	if !a.hasPrev {
		sh.Trend = v
		sh.SumValue = v
		sh.SumValueSqr = v * v
		sh.SumEntries = 1
	} else {
		sh.Trend = a.prev.Trend + a.alpha*(v-a.prev.Trend)
		sh.SumValue = a.prev.SumValue + v
		sh.SumValueSqr = a.prev.SumValueSqr + v*v
		sh.SumEntries = a.prev.SumEntries + 1
	}

	s1, s2, n := sh.SumValue, sh.SumValueSqr, sh.SumEntries
	if len(a.window) == a.history {
		old := a.window[0]
		s1 -= old.SumValue
		s2 -= old.SumValueSqr
		n -= old.SumEntries
	}
	sh.StdDev = stddev(s1, s2, n)

	if len(a.window) == a.history {
		a.window = append(a.window[:0], a.window[1:]...)
	}
	a.window = append(a.window, sh)
	a.prev, a.hasPrev = sh, true
	return sh
}

func (a *accumulator) value(el element) float64 {
	return el.value(a.method)
}

// stddev is the population standard deviation from running sums, clamped at 0
func stddev(s1, s2, n float64) float64 {
	if n <= 0 {
		return 0
	}
	mean := s1 / n
	variance := s2/n - mean*mean
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}
	return math.Sqrt(variance)
}
