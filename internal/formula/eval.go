package formula

import (
	"errors"
	"math"
)

// ErrNoSeries is returned when a formula evaluates to a constant
var ErrNoSeries = errors.New("formula: expression does not reference a series")

// Point is one element of a series sequence
type Point struct {
	TsStart int64
	TsEnd   int64
	Value   float64
}

// Aligner pairs two sequences onto common timestamps before a binary operation.
// Both returned slices have the same length and the same TsStart per index.
type Aligner interface {
	Align(a, b []Point) (left, right []Point)
}

// StepAligner aligns on the union of timestamps. Each side carries its most
// recent value forward; timestamps before a side's first point are dropped.
type StepAligner struct{}

// Align implements Aligner
func (StepAligner) Align(a, b []Point) (left, right []Point) {
	var lastA, lastB *Point
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		ts := nextTimestamp(a, b, i, j)
		for i < len(a) && a[i].TsStart == ts {
			lastA = &a[i]
			i++
		}
		for j < len(b) && b[j].TsStart == ts {
			lastB = &b[j]
			j++
		}
		if lastA == nil || lastB == nil {
			continue
		}
		left = append(left, Point{TsStart: ts, TsEnd: maxInt64(ts, lastA.TsEnd), Value: lastA.Value})
		right = append(right, Point{TsStart: ts, TsEnd: maxInt64(ts, lastB.TsEnd), Value: lastB.Value})
	}
	return left, right
}

// IntersectAligner keeps only timestamps present in both sequences
type IntersectAligner struct{}

// Align implements Aligner
func (IntersectAligner) Align(a, b []Point) (left, right []Point) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].TsStart < b[j].TsStart:
			i++
		case a[i].TsStart > b[j].TsStart:
			j++
		default:
			left = append(left, a[i])
			right = append(right, b[j])
			i++
			j++
		}
	}
	return left, right
}

// AlignerByName resolves a configured aligner name. Unknown names select StepAligner.
func AlignerByName(name string) Aligner {
	if name == "intersect" {
		return IntersectAligner{}
	}
	return StepAligner{}
}

func nextTimestamp(a, b []Point, i, j int) int64 {
	switch {
	case i >= len(a):
		return b[j].TsStart
	case j >= len(b):
		return a[i].TsStart
	case a[i].TsStart <= b[j].TsStart:
		return a[i].TsStart
	default:
		return b[j].TsStart
	}
}

// operand is an intermediate evaluation result: a constant or a sequence
type operand struct {
	scalar   float64
	isScalar bool
	points   []Point
}

type evalEnv struct {
	sources map[string][]Point
	aligner Aligner
}

// Apply evaluates the formula over source sequences keyed by series name.
// Sequences must be sorted by TsStart; a missing source is an empty sequence.
// A nil aligner selects StepAligner.
func (f *Formula) Apply(sources map[string][]Point, aligner Aligner) ([]Point, error) {
	if aligner == nil {
		aligner = StepAligner{}
	}
	out := f.Root.eval(&evalEnv{sources: sources, aligner: aligner})
	if out.isScalar {
		return nil, ErrNoSeries
	}
	return out.points, nil
}

func (n *SeriesRef) eval(env *evalEnv) operand {
	return operand{points: env.sources[n.Name]}
}

func (n *Number) eval(*evalEnv) operand {
	return operand{scalar: n.Value, isScalar: true}
}

func (n *PeriodConst) eval(*evalEnv) operand {
	return operand{scalar: float64(n.Period.Seconds()), isScalar: true}
}

func (n *Group) eval(env *evalEnv) operand {
	return n.Inner.eval(env)
}

func (n *Delta) eval(env *evalEnv) operand {
	src := env.sources[n.Series.Name]
	if len(src) < 2 {
		return operand{}
	}
	out := make([]Point, 0, len(src)-1)
	for i := 1; i < len(src); i++ {
		var v float64
		if n.Mode == DeltaTimestamp {
			v = float64(src[i].TsStart - src[i-1].TsStart)
		} else {
			v = src[i].Value - src[i-1].Value
		}
		out = append(out, Point{TsStart: src[i].TsStart, TsEnd: src[i].TsEnd, Value: v})
	}
	return operand{points: out}
}

func (n *Binary) eval(env *evalEnv) operand {
	l := n.Left.eval(env)
	r := n.Right.eval(env)

	switch {
	case l.isScalar && r.isScalar:
		return operand{scalar: n.Op.apply(l.scalar, r.scalar), isScalar: true}
	case l.isScalar:
		return operand{points: mapPoints(r.points, func(v float64) float64 { return n.Op.apply(l.scalar, v) })}
	case r.isScalar:
		return operand{points: mapPoints(l.points, func(v float64) float64 { return n.Op.apply(v, r.scalar) })}
	}

	left, right := env.aligner.Align(l.points, r.points)
	out := make([]Point, 0, len(left))
	for i := range left {
		v := n.Op.apply(left[i].Value, right[i].Value)
		if !finite(v) {
			continue
		}
		out = append(out, Point{
			TsStart: left[i].TsStart,
			TsEnd:   maxInt64(left[i].TsEnd, right[i].TsEnd),
			Value:   v,
		})
	}
	return operand{points: out}
}

func mapPoints(points []Point, fn func(float64) float64) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		v := fn(p.Value)
		if !finite(v) {
			continue
		}
		out = append(out, Point{TsStart: p.TsStart, TsEnd: p.TsEnd, Value: v})
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
