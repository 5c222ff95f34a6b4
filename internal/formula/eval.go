package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalError reports a runtime failure: unknown column, non-numeric value,
// division by zero, or an unbound placeholder. For user_defined and
// first_available candidates it rejects that one expression; for the always
// strategy it is fatal to the layer.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return "formula: " + e.Msg }

// Env resolves a column reference to its numeric value for the current row.
type Env func(column string) (float64, error)

// Eval evaluates the expression against env. Comparisons yield 1 or 0.
// Unresolved placeholders are an error; bind them first.
func (e *Expr) Eval(env Env) (float64, error) {
	return evalNode(e.root, env)
}

func evalNode(n node, env Env) (float64, error) {
	switch v := n.(type) {
	case numberNode:
		return float64(v), nil
	case columnNode:
		val, err := env(string(v))
		if err != nil {
			return 0, &EvalError{Msg: err.Error()}
		}
		return val, nil
	case placeholderNode:
		return 0, &EvalError{Msg: "unbound placeholder $" + string(v)}
	case unaryNode:
		val, err := evalNode(v.child, env)
		if err != nil {
			return 0, err
		}
		return -val, nil
	case binaryNode:
		left, err := evalNode(v.left, env)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(v.right, env)
		if err != nil {
			return 0, err
		}
		return applyOp(v.op, left, right)
	default:
		return 0, &EvalError{Msg: fmt.Sprintf("unsupported node %T", n)}
	}
}

func applyOp(op string, a, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, &EvalError{Msg: "division by zero"}
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, &EvalError{Msg: "division by zero"}
		}
		return float64(int64(a) % int64(b)), nil
	case "==":
		return boolVal(a == b), nil
	case "!=":
		return boolVal(a != b), nil
	case "<":
		return boolVal(a < b), nil
	case "<=":
		return boolVal(a <= b), nil
	case ">":
		return boolVal(a > b), nil
	case ">=":
		return boolVal(a >= b), nil
	default:
		return 0, &EvalError{Msg: "unsupported operator " + op}
	}
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ParseNumber coerces a raw cell value into a float. Currency symbols,
// thousands separators, and surrounding parentheses (accounting negatives)
// are tolerated because source spreadsheets use them freely.
func ParseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	if neg {
		v = -v
	}
	return v, nil
}
