package formula

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/lifelog/lifelog/internal/calendar"
)

// TokenKind identifies a lexical token
type TokenKind int

const (
	TokenUnknown TokenKind = iota // lexical failure sentinel
	TokenEOF
	TokenSeries
	TokenLong
	TokenFloat
	TokenPeriod
	TokenPlus
	TokenMinus
	TokenMultiply
	TokenDivide
	TokenDelta
	TokenDeltaTimestamp
	TokenDeltaValue
	TokenLParen
	TokenRParen
)

var tokenKindNames = map[TokenKind]string{
	TokenUnknown:        "unknown",
	TokenEOF:            "end of input",
	TokenSeries:         "series",
	TokenLong:           "integer",
	TokenFloat:          "number",
	TokenPeriod:         "period",
	TokenPlus:           "+",
	TokenMinus:          "-",
	TokenMultiply:       "*",
	TokenDivide:         "/",
	TokenDelta:          "delta",
	TokenDeltaTimestamp: "timestamp",
	TokenDeltaValue:     "value",
	TokenLParen:         "(",
	TokenRParen:         ")",
}

func (k TokenKind) String() string {
	if s, ok := tokenKindNames[k]; ok {
		return s
	}
	return "token(" + strconv.Itoa(int(k)) + ")"
}

// Token is one lexical unit of a formula
type Token struct {
	Kind   TokenKind
	Text   string // source text of the token
	Pos    int    // byte offset in the input
	Name   string // unescaped series name for TokenSeries
	Long   int64
	Float  float64
	Period calendar.Period
}

func (t Token) isOperator() bool {
	switch t.Kind {
	case TokenPlus, TokenMinus, TokenMultiply, TokenDivide:
		return true
	}
	return false
}

const (
	keywordSeries    = "series"
	keywordDelta     = "delta"
	keywordTimestamp = "timestamp"
	keywordValue     = "value"
)

// Tokenize splits input into tokens terminated by TokenEOF. On a lexical
// failure the stream ends with a single TokenUnknown at the failing offset.
func Tokenize(input string) []Token {
	lx := lexer{input: input}
	for {
		tok := lx.next()
		lx.tokens = append(lx.tokens, tok)
		if tok.Kind == TokenEOF || tok.Kind == TokenUnknown {
			return lx.tokens
		}
	}
}

type lexer struct {
	input  string
	pos    int
	tokens []Token
}

func (lx *lexer) next() Token {
	lx.skipSpace()
	if lx.pos >= len(lx.input) {
		return Token{Kind: TokenEOF, Pos: lx.pos}
	}

	start := lx.pos
	c := lx.input[lx.pos]
	switch {
	case c == '(':
		lx.pos++
		return Token{Kind: TokenLParen, Text: "(", Pos: start}
	case c == ')':
		lx.pos++
		return Token{Kind: TokenRParen, Text: ")", Pos: start}
	case c == '+':
		lx.pos++
		return Token{Kind: TokenPlus, Text: "+", Pos: start}
	case c == '*':
		lx.pos++
		return Token{Kind: TokenMultiply, Text: "*", Pos: start}
	case c == '/':
		lx.pos++
		return Token{Kind: TokenDivide, Text: "/", Pos: start}
	case c == '-':
		if lx.signAllowed() && lx.pos+1 < len(lx.input) && isDigit(lx.input[lx.pos+1]) {
			return lx.number()
		}
		lx.pos++
		return Token{Kind: TokenMinus, Text: "-", Pos: start}
	case isDigit(c) || c == '.':
		return lx.number()
	case isLetter(c):
		return lx.word()
	}

	return lx.unknown(start)
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.input) && unicode.IsSpace(rune(lx.input[lx.pos])) {
		lx.pos++
	}
}

// signAllowed reports whether a '-' at the current offset starts a literal
func (lx *lexer) signAllowed() bool {
	if len(lx.tokens) == 0 {
		return true
	}
	prev := lx.tokens[len(lx.tokens)-1]
	return prev.isOperator() || prev.Kind == TokenLParen || prev.Kind == TokenDelta
}

func (lx *lexer) number() Token {
	start := lx.pos
	if lx.input[lx.pos] == '-' {
		lx.pos++
	}
	digits, dots := 0, 0
	for lx.pos < len(lx.input) {
		c := lx.input[lx.pos]
		if isDigit(c) {
			digits++
		} else if c == '.' {
			dots++
		} else {
			break
		}
		lx.pos++
	}
	if lx.pos < len(lx.input) && isLetter(lx.input[lx.pos]) {
		return lx.unknown(start)
	}

	text := lx.input[start:lx.pos]
	if digits == 0 || dots > 1 {
		return lx.unknown(start)
	}
	if dots == 0 {
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return lx.unknown(start)
		}
		return Token{Kind: TokenLong, Text: text, Pos: start, Long: v}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return lx.unknown(start)
	}
	return Token{Kind: TokenFloat, Text: text, Pos: start, Float: v}
}

func (lx *lexer) word() Token {
	start := lx.pos
	for lx.pos < len(lx.input) && (isLetter(lx.input[lx.pos]) || isDigit(lx.input[lx.pos])) {
		lx.pos++
	}
	word := strings.ToLower(lx.input[start:lx.pos])

	switch word {
	case keywordSeries:
		return lx.seriesRef(start)
	case keywordDelta:
		return Token{Kind: TokenDelta, Text: lx.input[start:lx.pos], Pos: start}
	case keywordTimestamp:
		return Token{Kind: TokenDeltaTimestamp, Text: lx.input[start:lx.pos], Pos: start}
	case keywordValue:
		return Token{Kind: TokenDeltaValue, Text: lx.input[start:lx.pos], Pos: start}
	}
	if p, ok := calendar.LookupPeriod(word); ok {
		return Token{Kind: TokenPeriod, Text: lx.input[start:lx.pos], Pos: start, Period: p}
	}
	return lx.unknown(start)
}

// seriesRef scans the quoted name after the series keyword
func (lx *lexer) seriesRef(start int) Token {
	lx.skipSpace()
	if lx.pos >= len(lx.input) || lx.input[lx.pos] != '"' {
		return lx.unknown(start)
	}
	lx.pos++

	var name strings.Builder
	for lx.pos < len(lx.input) {
		c := lx.input[lx.pos]
		switch c {
		case '\\':
			if lx.pos+1 >= len(lx.input) {
				return lx.unknown(start)
			}
			esc := lx.input[lx.pos+1]
			if esc != '"' && esc != '\\' {
				return lx.unknown(start)
			}
			name.WriteByte(esc)
			lx.pos += 2
		case '"':
			lx.pos++
			if name.Len() == 0 {
				return lx.unknown(start)
			}
			return Token{Kind: TokenSeries, Text: lx.input[start:lx.pos], Pos: start, Name: name.String()}
		default:
			name.WriteByte(c)
			lx.pos++
		}
	}
	return lx.unknown(start)
}

func (lx *lexer) unknown(start int) Token {
	end := lx.pos
	if end <= start {
		end = start + 1
	}
	if end > len(lx.input) {
		end = len(lx.input)
	}
	return Token{Kind: TokenUnknown, Text: lx.input[start:end], Pos: start}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

// EscapeName escapes a series name for use between the quotes of a series reference
func EscapeName(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(name)
}

// SeriesRefText renders a series reference for name
func SeriesRefText(name string) string {
	return keywordSeries + ` "` + EscapeName(name) + `"`
}
