// Package formula implements the restricted expression language used by
// computed layers. Expressions are parsed into a whitelisted AST and
// evaluated against a column environment; there is no function call syntax,
// no member access, and no way to reach outside the supplied columns.
//
// Supported forms: numeric literals, column references (bare identifiers or
// [bracketed names] for columns containing spaces), $PLACEHOLDER tokens,
// unary minus, + - * / %, comparisons (== != < <= > >=), and parentheses.
package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokColumn      // bare or bracketed column reference
	tokPlaceholder // $NAME
	tokOp          // + - * / % == != < <= > >=
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// ParseError reports a malformed expression.
type ParseError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("formula: parse error at offset %d: %s", e.Pos, e.Msg)
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errf(pos int, format string, args ...interface{}) error {
	return &ParseError{Expr: l.src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '+' || c == '-' || c == '*' || c == '/' || c == '%':
		l.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	case c == '=' || c == '!' || c == '<' || c == '>':
		op := string(c)
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			op += "="
			l.pos++
		}
		if op == "=" || op == "!" {
			return token{}, l.errf(start, "unexpected %q", op)
		}
		return token{kind: tokOp, text: op, pos: start}, nil
	case c == '[':
		end := strings.IndexByte(l.src[l.pos:], ']')
		if end < 0 {
			return token{}, l.errf(start, "unterminated column name")
		}
		name := l.src[l.pos+1 : l.pos+end]
		l.pos += end + 1
		if strings.TrimSpace(name) == "" {
			return token{}, l.errf(start, "empty column name")
		}
		return token{kind: tokColumn, text: name, pos: start}, nil
	case c == '$':
		l.pos++
		id := l.ident()
		if id == "" {
			return token{}, l.errf(start, "expected placeholder name after $")
		}
		return token{kind: tokPlaceholder, text: id, pos: start}, nil
	case c >= '0' && c <= '9' || c == '.':
		for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
	case isIdentStart(rune(c)):
		id := l.ident()
		return token{kind: tokColumn, text: id, pos: start}, nil
	default:
		return token{}, l.errf(start, "unexpected character %q", c)
	}
}

func (l *lexer) ident() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
