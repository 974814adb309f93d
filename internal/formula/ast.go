package formula

import (
	"strconv"
	"strings"

	"github.com/lifelog/lifelog/internal/calendar"
)

// Node is an element of a parsed formula
type Node interface {
	String() string
	eval(env *evalEnv) operand
}

// Operator is a binary arithmetic operator
type Operator byte

const (
	OpAdd      Operator = '+'
	OpSubtract Operator = '-'
	OpMultiply Operator = '*'
	OpDivide   Operator = '/'
)

func (o Operator) String() string {
	return string(o)
}

func (o Operator) apply(a, b float64) float64 {
	switch o {
	case OpAdd:
		return a + b
	case OpSubtract:
		return a - b
	case OpMultiply:
		return a * b
	default:
		return a / b
	}
}

// DeltaMode selects what delta differences
type DeltaMode int

const (
	DeltaValue DeltaMode = iota
	DeltaTimestamp
)

func (m DeltaMode) String() string {
	if m == DeltaTimestamp {
		return keywordTimestamp
	}
	return keywordValue
}

// SeriesRef references another series by name
type SeriesRef struct {
	Name string
}

func (n *SeriesRef) String() string {
	return SeriesRefText(n.Name)
}

// Number is a numeric literal
type Number struct {
	Value   float64
	Integer bool
}

func (n *Number) String() string {
	if n.Integer {
		return strconv.FormatInt(int64(n.Value), 10)
	}
	s := strconv.FormatFloat(n.Value, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// PeriodConst is a period keyword evaluating to its length in seconds
type PeriodConst struct {
	Period calendar.Period
}

func (n *PeriodConst) String() string {
	return n.Period.String()
}

// Group wraps a sub-expression. Implicit groups wrap a lone top-level operand
// and render without parentheses.
type Group struct {
	Inner    Node
	Implicit bool
}

func (n *Group) String() string {
	if n.Implicit {
		return n.Inner.String()
	}
	return "(" + n.Inner.String() + ")"
}

// Binary is an arithmetic operation
type Binary struct {
	Op          Operator
	Left, Right Node
}

func (n *Binary) String() string {
	return n.Left.String() + " " + n.Op.String() + " " + n.Right.String()
}

// Delta differences consecutive points of a series
type Delta struct {
	Series *SeriesRef
	Mode   DeltaMode
}

func (n *Delta) String() string {
	return n.Series.String() + " " + keywordDelta + " " + n.Mode.String()
}

// Walk calls fn for n and every node below it, parents first
func Walk(n Node, fn func(Node)) {
	fn(n)
	switch n := n.(type) {
	case *Group:
		Walk(n.Inner, fn)
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Delta:
		Walk(n.Series, fn)
	}
}
