package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog/lifelog/internal/calendar"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize(`series "steps" * -2.5 + week`)
	kinds := make([]TokenKind, 0, len(tokens))
	for _, tok := range tokens {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []TokenKind{TokenSeries, TokenMultiply, TokenFloat, TokenPlus, TokenPeriod, TokenEOF}, kinds)
	assert.Equal(t, "steps", tokens[0].Name)
	assert.Equal(t, -2.5, tokens[2].Float)
	assert.Equal(t, calendar.Week, tokens[4].Period)
}

func TestTokenize_MinusIsOperatorAfterOperand(t *testing.T) {
	tokens := Tokenize(`5 -3`)
	require.Len(t, tokens, 4)
	assert.Equal(t, TokenLong, tokens[0].Kind)
	assert.Equal(t, TokenMinus, tokens[1].Kind)
	assert.Equal(t, int64(3), tokens[2].Long)
}

func TestTokenize_EscapedName(t *testing.T) {
	name := `my "quoted" \ name`
	tokens := Tokenize(SeriesRefText(name))
	require.Equal(t, TokenSeries, tokens[0].Kind)
	assert.Equal(t, name, tokens[0].Name)
}

func TestTokenize_Unknown(t *testing.T) {
	inputs := []string{
		`series "unterminated`,
		`series steps`,
		`series ""`,
		`series "bad \n escape"`,
		`2 % 3`,
		`1.2.3`,
		`fortnight`,
		`99999999999999999999`,
		`12abc`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			tokens := Tokenize(in)
			last := tokens[len(tokens)-1]
			assert.Equal(t, TokenUnknown, last.Kind)
			for _, tok := range tokens[:len(tokens)-1] {
				assert.NotEqual(t, TokenUnknown, tok.Kind)
			}
		})
	}
}

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		text string
		deps []string
		want string
	}{
		{`series "A"`, []string{"A"}, `series "A"`},
		{`series "A" * 2`, []string{"A"}, `series "A" * 2`},
		{`series "A" + series "B"`, []string{"A", "B"}, `series "A" + series "B"`},
		{`(series "A" + series "B") / 2.0`, []string{"A", "B"}, `(series "A" + series "B") / 2.0`},
		{`series "A" delta value`, []string{"A"}, `series "A" delta value`},
		{`(series "A" delta timestamp) / hour`, []string{"A"}, `(series "A" delta timestamp) / hour`},
		{`series "A" - (series "A" * 0.5)`, []string{"A"}, `series "A" - (series "A" * 0.5)`},
		{`((series "x"))`, []string{"x"}, `((series "x"))`},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.deps, f.Dependents)
			assert.Equal(t, tt.want, f.String())
		})
	}
}

func TestParse_ImplicitGroup(t *testing.T) {
	f, err := Parse(`series "A"`)
	require.NoError(t, err)
	g, ok := f.Root.(*Group)
	require.True(t, ok)
	assert.True(t, g.Implicit)

	f, err = Parse(`series "A" * 3`)
	require.NoError(t, err)
	_, ok = f.Root.(*Binary)
	assert.True(t, ok)
}

func TestParse_RoundTrip(t *testing.T) {
	formulas := []string{
		`series "Weight (kg)" * 2.2046`,
		`(series "a\"b" + series "c\\d") - (series "e" delta value)`,
		`series "sleep" / day`,
		`-1 * series "balance"`,
		`(series "run" + series "walk") / (series "run" + 1)`,
	}
	for _, text := range formulas {
		t.Run(text, func(t *testing.T) {
			f, err := Parse(text)
			require.NoError(t, err)

			again, err := Parse(f.String())
			require.NoError(t, err)
			assert.Equal(t, f.Dependents, again.Dependents)
			assert.Equal(t, f.String(), again.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		text string
		pos  int
	}{
		{``, 0},
		{`series "A" +`, 12},
		{`series "A" + series "B" + series "C"`, 24},
		{`2 delta value`, 2},
		{`series "A" delta +`, 17},
		{`series "A" delta series "B"`, 17},
		{`series "A" + timestamp`, 13},
		{`value`, 0},
		{`(series "A"`, 11},
		{`series "A")`, 10},
		{`series "A" * $`, 13},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f, err := Parse(tt.text)
			assert.Nil(t, f)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.pos, perr.Pos)
			assert.NotEmpty(t, perr.Error())
		})
	}
}

func TestDependents_Deduplicated(t *testing.T) {
	deps, err := Dependents(`(series "b" + series "a") * (series "b" - series "a")`)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, deps)
}

func pts(values ...float64) []Point {
	out := make([]Point, len(values))
	for i, v := range values {
		ts := int64(100 * (i + 1))
		out[i] = Point{TsStart: ts, TsEnd: ts, Value: v}
	}
	return out
}

func TestApply_Scalar(t *testing.T) {
	f, err := Parse(`series "A" * 2`)
	require.NoError(t, err)

	out, err := f.Apply(map[string][]Point{"A": {{TsStart: 100, TsEnd: 100, Value: 5}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []Point{{TsStart: 100, TsEnd: 100, Value: 10}}, out)
}

func TestApply_MissingSourceIsEmpty(t *testing.T) {
	f, err := Parse(`series "A" + 1`)
	require.NoError(t, err)
	out, err := f.Apply(map[string][]Point{}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestApply_ConstantRejected(t *testing.T) {
	f, err := Parse(`hour * 2`)
	require.NoError(t, err)
	_, err = f.Apply(nil, nil)
	assert.ErrorIs(t, err, ErrNoSeries)
}

func TestApply_PeriodConstant(t *testing.T) {
	f, err := Parse(`series "A" / hour`)
	require.NoError(t, err)
	out, err := f.Apply(map[string][]Point{"A": pts(7200)}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].Value)
}

func TestApply_Delta(t *testing.T) {
	src := []Point{
		{TsStart: 100, TsEnd: 100, Value: 3},
		{TsStart: 160, TsEnd: 160, Value: 10},
		{TsStart: 400, TsEnd: 400, Value: 4},
	}

	f, err := Parse(`series "A" delta value`)
	require.NoError(t, err)
	out, err := f.Apply(map[string][]Point{"A": src}, nil)
	require.NoError(t, err)
	assert.Equal(t, []Point{{160, 160, 7}, {400, 400, -6}}, out)

	f, err = Parse(`series "A" delta timestamp`)
	require.NoError(t, err)
	out, err = f.Apply(map[string][]Point{"A": src}, nil)
	require.NoError(t, err)
	assert.Equal(t, []Point{{160, 160, 60}, {400, 400, 240}}, out)

	out, err = f.Apply(map[string][]Point{"A": src[:1]}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestApply_DivisionByZeroDropped(t *testing.T) {
	f, err := Parse(`series "A" / series "B"`)
	require.NoError(t, err)
	out, err := f.Apply(map[string][]Point{
		"A": pts(10, 20, 30),
		"B": pts(2, 0, 3),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []Point{{100, 100, 5}, {300, 300, 10}}, out)
}

func TestStepAligner(t *testing.T) {
	a := []Point{{TsStart: 100, TsEnd: 100, Value: 1}, {TsStart: 300, TsEnd: 300, Value: 3}}
	b := []Point{{TsStart: 50, TsEnd: 50, Value: 10}, {TsStart: 200, TsEnd: 200, Value: 20}}

	left, right := StepAligner{}.Align(a, b)
	require.Len(t, left, 3)
	require.Len(t, right, 3)

	ts := []int64{left[0].TsStart, left[1].TsStart, left[2].TsStart}
	assert.Equal(t, []int64{100, 200, 300}, ts)
	assert.Equal(t, []float64{1, 1, 3}, []float64{left[0].Value, left[1].Value, left[2].Value})
	assert.Equal(t, []float64{10, 20, 20}, []float64{right[0].Value, right[1].Value, right[2].Value})
	for i := range left {
		assert.Equal(t, left[i].TsStart, right[i].TsStart)
	}
}

func TestIntersectAligner(t *testing.T) {
	a := pts(1, 2, 3)
	b := []Point{{TsStart: 200, TsEnd: 200, Value: 20}, {TsStart: 250, TsEnd: 250, Value: 25}, {TsStart: 300, TsEnd: 300, Value: 30}}

	f, err := Parse(`series "A" + series "B"`)
	require.NoError(t, err)
	out, err := f.Apply(map[string][]Point{"A": a, "B": b}, AlignerByName("intersect"))
	require.NoError(t, err)
	assert.Equal(t, []Point{{200, 200, 22}, {300, 300, 33}}, out)
}

func TestAlignerByName(t *testing.T) {
	assert.IsType(t, StepAligner{}, AlignerByName("step"))
	assert.IsType(t, StepAligner{}, AlignerByName(""))
	assert.IsType(t, IntersectAligner{}, AlignerByName("intersect"))
}

func TestFormula_Rename(t *testing.T) {
	f, err := Parse(`(series "Coffee" delta value) + series "Tea"`)
	require.NoError(t, err)

	assert.False(t, f.Rename("Water", "Juice"))
	assert.True(t, f.Rename("Coffee", "Espresso"))
	assert.Equal(t, []string{"Espresso", "Tea"}, f.Dependents)
	assert.Equal(t, `(series "Espresso" delta value) + series "Tea"`, f.Text)

	again, err := Parse(f.Text)
	require.NoError(t, err)
	assert.Equal(t, f.Dependents, again.Dependents)
}
