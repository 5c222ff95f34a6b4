package formula

import (
	"strconv"
	"strings"
)

type node interface{}

type numberNode float64

type columnNode string

type placeholderNode string

type unaryNode struct {
	op    string
	child node
}

type binaryNode struct {
	op          string
	left, right node
}

// Expr is a parsed, whitelist-checked expression.
type Expr struct {
	root node
	src  string
}

// Binding powers; comparisons bind loosest.
var precedence = map[string]int{
	"==": 1, "!=": 1, "<": 1, "<=": 1, ">": 1, ">=": 1,
	"+": 2, "-": 2,
	"*": 3, "/": 3, "%": 3,
}

type parser struct {
	lex  *lexer
	cur  token
	herr error
}

// Parse compiles src into an Expr. Only arithmetic, comparisons, column
// references, and placeholders are accepted; anything else fails here.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &ParseError{Expr: src, Msg: "empty expression"}
	}
	p := &parser{lex: &lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, &ParseError{Expr: src, Pos: p.cur.pos, Msg: "unexpected trailing input"}
	}
	return &Expr{root: root, src: src}, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseExpr(minPrec int) (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for p.cur.kind == tokOp {
		prec, ok := precedence[p.cur.text]
		if !ok || prec < minPrec {
			break
		}
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.cur
	switch tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &ParseError{Expr: p.lex.src, Pos: tok.pos, Msg: "malformed number " + tok.text}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return numberNode(v), nil
	case tokColumn:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return columnNode(tok.text), nil
	case tokPlaceholder:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return placeholderNode(tok.text), nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, &ParseError{Expr: p.lex.src, Pos: p.cur.pos, Msg: "expected )"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokOp:
		if tok.text == "-" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			child, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return unaryNode{op: "-", child: child}, nil
		}
	}
	return nil, &ParseError{Expr: p.lex.src, Pos: tok.pos, Msg: "expected operand"}
}

// Columns returns the distinct column references in first-appearance order.
func (e *Expr) Columns() []string {
	var out []string
	seen := make(map[string]bool)
	walk(e.root, func(n node) {
		if c, ok := n.(columnNode); ok && !seen[string(c)] {
			seen[string(c)] = true
			out = append(out, string(c))
		}
	})
	return out
}

// Placeholders returns the distinct $NAME tokens in first-appearance order.
func (e *Expr) Placeholders() []string {
	var out []string
	seen := make(map[string]bool)
	walk(e.root, func(n node) {
		if p, ok := n.(placeholderNode); ok && !seen[string(p)] {
			seen[string(p)] = true
			out = append(out, string(p))
		}
	})
	return out
}

// Bind substitutes placeholders with concrete column references and returns
// the bound expression. Every placeholder must have an entry.
func (e *Expr) Bind(columns map[string]string) (*Expr, error) {
	bound, err := bindNode(e.root, columns)
	if err != nil {
		return nil, err
	}
	out := &Expr{root: bound}
	out.src = out.String()
	return out, nil
}

func bindNode(n node, columns map[string]string) (node, error) {
	switch v := n.(type) {
	case placeholderNode:
		col, ok := columns[string(v)]
		if !ok {
			return nil, &EvalError{Msg: "unbound placeholder $" + string(v)}
		}
		return columnNode(col), nil
	case unaryNode:
		child, err := bindNode(v.child, columns)
		if err != nil {
			return nil, err
		}
		return unaryNode{op: v.op, child: child}, nil
	case binaryNode:
		left, err := bindNode(v.left, columns)
		if err != nil {
			return nil, err
		}
		right, err := bindNode(v.right, columns)
		if err != nil {
			return nil, err
		}
		return binaryNode{op: v.op, left: left, right: right}, nil
	default:
		return n, nil
	}
}

// String renders the expression in canonical form: bracketed names for
// columns with non-identifier characters, bare names otherwise.
func (e *Expr) String() string {
	return render(e.root)
}

func render(n node) string {
	switch v := n.(type) {
	case numberNode:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case columnNode:
		return renderColumn(string(v))
	case placeholderNode:
		return "$" + string(v)
	case unaryNode:
		return v.op + render(v.child)
	case binaryNode:
		return "(" + render(v.left) + " " + v.op + " " + render(v.right) + ")"
	default:
		return ""
	}
}

func renderColumn(name string) string {
	for i, r := range name {
		if i == 0 && !isIdentStart(r) || i > 0 && !isIdentPart(r) {
			return "[" + name + "]"
		}
	}
	return name
}

func walk(n node, fn func(node)) {
	fn(n)
	switch v := n.(type) {
	case unaryNode:
		walk(v.child, fn)
	case binaryNode:
		walk(v.left, fn)
		walk(v.right, fn)
	}
}
