// Package formula parses and evaluates synthetic series formulas.
//
// The grammar is flat: an expression is a single operand or exactly one
// binary operation. Deeper expressions nest through parentheses only, and
// there is no operator precedence.
//
//	expr    := operand (op operand)?
//	operand := series "<name>" | number | period | '(' expr ')'
//	op      := '+' | '-' | '*' | '/' | delta
//
// delta is only legal as `series "<name>" delta timestamp|value`.
package formula

import (
	"fmt"
)

// ParseError describes why a formula was rejected
type ParseError struct {
	Token Token
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token.Kind == TokenEOF {
		return fmt.Sprintf("formula: %s at end of input", e.Msg)
	}
	return fmt.Sprintf("formula: %s at position %d near %q", e.Msg, e.Pos, e.Token.Text)
}

// Formula is a parsed formula
type Formula struct {
	Text       string
	Root       Node
	Dependents []string // referenced series names, deduplicated in order of appearance
}

// String renders the canonical form of the formula
func (f *Formula) String() string {
	return f.Root.String()
}

// Parse parses text into a formula
func Parse(text string) (*Formula, error) {
	p := &parser{tokens: Tokenize(text), seen: make(map[string]struct{})}

	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, p.errorf(tok, "unexpected %s, use parentheses to chain operations", tok.Kind)
	}

	if !isBinary(root) {
		root = &Group{Inner: root, Implicit: true}
	}
	return &Formula{Text: text, Root: root, Dependents: p.deps}, nil
}

// Dependents returns the series names referenced by text
func Dependents(text string) ([]string, error) {
	f, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return f.Dependents, nil
}

type parser struct {
	tokens []Token
	pos    int
	deps   []string
	seen   map[string]struct{}
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok Token, format string, args ...interface{}) error {
	return &ParseError{Token: tok, Pos: tok.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expr() (Node, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	switch {
	case tok.isOperator():
		p.advance()
		right, err := p.operand()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: Operator(tok.Text[0]), Left: left, Right: right}, nil

	case tok.Kind == TokenDelta:
		p.advance()
		ref, ok := left.(*SeriesRef)
		if !ok {
			return nil, p.errorf(tok, "delta requires a series on the left")
		}
		arg := p.advance()
		switch arg.Kind {
		case TokenDeltaTimestamp:
			return &Delta{Series: ref, Mode: DeltaTimestamp}, nil
		case TokenDeltaValue:
			return &Delta{Series: ref, Mode: DeltaValue}, nil
		case TokenPlus, TokenMinus, TokenMultiply, TokenDivide:
			return nil, p.errorf(arg, "operator %s not allowed as delta argument", arg.Kind)
		}
		return nil, p.errorf(arg, "delta expects timestamp or value, got %s", arg.Kind)
	}

	return left, nil
}

func (p *parser) operand() (Node, error) {
	tok := p.advance()
	switch tok.Kind {
	case TokenSeries:
		if _, ok := p.seen[tok.Name]; !ok {
			p.seen[tok.Name] = struct{}{}
			p.deps = append(p.deps, tok.Name)
		}
		return &SeriesRef{Name: tok.Name}, nil
	case TokenLong:
		return &Number{Value: float64(tok.Long), Integer: true}, nil
	case TokenFloat:
		return &Number{Value: tok.Float}, nil
	case TokenPeriod:
		return &PeriodConst{Period: tok.Period}, nil
	case TokenLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.Kind != TokenRParen {
			return nil, p.errorf(closing, "expected ), got %s", closing.Kind)
		}
		return &Group{Inner: inner}, nil
	case TokenDeltaTimestamp, TokenDeltaValue:
		return nil, p.errorf(tok, "%s is only valid after delta", tok.Kind)
	case TokenUnknown:
		return nil, p.errorf(tok, "invalid token")
	case TokenEOF:
		return nil, p.errorf(tok, "expected operand")
	}
	return nil, p.errorf(tok, "unexpected %s, expected operand", tok.Kind)
}

func isBinary(n Node) bool {
	switch n.(type) {
	case *Binary, *Delta:
		return true
	}
	return false
}

// Rename replaces references to series from with to and reports whether any
// reference changed. Text is updated to the canonical form.
func (f *Formula) Rename(from, to string) bool {
	changed := false
	Walk(f.Root, func(n Node) {
		if ref, ok := n.(*SeriesRef); ok && ref.Name == from {
			ref.Name = to
			changed = true
		}
	})
	if !changed {
		return false
	}

	deps := make([]string, 0, len(f.Dependents))
	seen := make(map[string]bool, len(f.Dependents))
	for _, d := range f.Dependents {
		if d == from {
			d = to
		}
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}
	f.Dependents = deps
	f.Text = f.Root.String()
	return true
}
