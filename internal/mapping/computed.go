package mapping

import (
	"fmt"
	"strings"

	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/formula"
	"github.com/ignite/template-mapper/internal/schema"
)

// ExpressionError reports a rejected computed expression: a parse failure, an
// unmapped column reference, or an evaluation error on the dataset sample.
type ExpressionError struct {
	Target string
	Expr   string
	Err    error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression for %q rejected: %v", e.Target, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// ResolveComputed resolves one computed layer against the columns mapped so
// far. env maps comparison keys (of dataset columns and of target fields
// resolved by earlier layers) to actual dataset column names. userExpr, when
// non-empty, supplies the interactively built expression for a user_defined
// layer.
//
// first_available commits to the first candidate that resolves its
// dependencies and evaluates cleanly on the sample; when none succeeds the
// result is nil with no error and the layer reports unresolved. user_defined
// rejections and always failures return an error.
func ResolveComputed(layer schema.Layer, env map[string]string, tbl *dataset.Table, sampleRows int, userExpr string) (*ComputedResult, error) {
	f := layer.Formula
	switch f.Strategy {
	case schema.StrategyFirstAvailable:
		return resolveFirstAvailable(layer, env, tbl, sampleRows), nil

	case schema.StrategyUserDefined:
		expr := userExpr
		if expr == "" {
			expr = f.Expression
		}
		if strings.TrimSpace(expr) == "" {
			// No expression proposed yet; the layer stays unresolved
			// until one is.
			return nil, nil
		}
		res, err := resolveExpression(layer.TargetField, expr, env, tbl, sampleRows)
		if err != nil {
			return nil, err
		}
		res.Method = schema.StrategyUserDefined
		return res, nil

	case schema.StrategyAlways:
		res, err := resolveExpression(layer.TargetField, f.Expression, env, tbl, sampleRows)
		if err != nil {
			return nil, err
		}
		res.Method = schema.StrategyAlways
		return res, nil
	}
	return nil, fmt.Errorf("unrecognized strategy %q", f.Strategy)
}

func resolveFirstAvailable(layer schema.Layer, env map[string]string, tbl *dataset.Table, sampleRows int) *ComputedResult {
	for _, c := range layer.Formula.Candidates {
		switch c.Type {
		case schema.CandidateDirect:
			for _, variant := range c.SourceCandidates {
				if col, ok := env[Key(variant)]; ok {
					return &ComputedResult{
						TargetField: layer.TargetField,
						Method:      schema.CandidateDirect,
						SourceCols:  []string{col},
					}
				}
			}

		case schema.CandidateDerived:
			res := tryDerived(layer.TargetField, c, env, tbl, sampleRows)
			if res != nil {
				return res
			}
		}
	}
	return nil
}

// tryDerived binds a derived candidate's placeholders and confirms the bound
// expression evaluates on the sample. Any failure rejects only this
// candidate.
func tryDerived(target string, c schema.Candidate, env map[string]string, tbl *dataset.Table, sampleRows int) *ComputedResult {
	expr, err := formula.Parse(c.Expression)
	if err != nil {
		return nil
	}

	bindings := make(map[string]string, len(c.Dependencies))
	for _, ph := range expr.Placeholders() {
		col, ok := resolveVariants(c.Dependencies[ph], env)
		if !ok {
			return nil
		}
		bindings[ph] = col
	}

	bound, err := expr.Bind(bindings)
	if err != nil {
		return nil
	}
	if err := evalSample(bound, tbl, sampleRows, nil); err != nil {
		return nil
	}

	cols := make([]string, 0, len(bindings))
	for _, ph := range expr.Placeholders() {
		cols = append(cols, bindings[ph])
	}
	return &ComputedResult{
		TargetField: target,
		Method:      schema.CandidateDerived,
		Expression:  bound.String(),
		SourceCols:  cols,
	}
}

func resolveVariants(variants []string, env map[string]string) (string, bool) {
	for _, v := range variants {
		if col, ok := env[Key(v)]; ok {
			return col, true
		}
	}
	return "", false
}

// resolveExpression validates a free-form expression: every referenced column
// must resolve against env and the resolved form must evaluate cleanly on
// the sample. The stored expression keeps the author's spelling; SourceCols
// records the resolved dataset columns.
func resolveExpression(target, src string, env map[string]string, tbl *dataset.Table, sampleRows int) (*ComputedResult, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, &ExpressionError{Target: target, Expr: src, Err: fmt.Errorf("empty expression")}
	}

	expr, err := formula.Parse(src)
	if err != nil {
		return nil, &ExpressionError{Target: target, Expr: src, Err: err}
	}
	if len(expr.Placeholders()) > 0 {
		return nil, &ExpressionError{Target: target, Expr: src, Err: fmt.Errorf("placeholders are only valid in derived candidates")}
	}

	var cols []string
	resolved := make(map[string]string)
	for _, ref := range expr.Columns() {
		col, ok := env[Key(ref)]
		if !ok {
			return nil, &ExpressionError{Target: target, Expr: src, Err: fmt.Errorf("unknown column %q", ref)}
		}
		resolved[ref] = col
		cols = append(cols, col)
	}

	if err := evalSample(expr, tbl, sampleRows, resolved); err != nil {
		return nil, &ExpressionError{Target: target, Expr: src, Err: err}
	}

	return &ComputedResult{
		TargetField: target,
		Expression:  src,
		SourceCols:  cols,
	}, nil
}

// evalSample runs the expression over the first sampleRows rows. translate,
// when non-nil, maps expression column references to actual dataset columns.
// Empty cells read as zero so a sparse sample does not reject a sound
// expression.
func evalSample(expr *formula.Expr, tbl *dataset.Table, sampleRows int, translate map[string]string) error {
	lookup := func(ref string) string {
		if translate != nil {
			if col, ok := translate[ref]; ok {
				return col
			}
		}
		return ref
	}

	rows := tbl.Sample(sampleRows)
	if len(rows) == 0 {
		// No data to test against; evaluate once with zeroed columns so
		// structural errors still surface.
		_, err := expr.Eval(func(ref string) (float64, error) {
			if !tbl.HasColumn(lookup(ref)) {
				return 0, &formula.EvalError{Msg: fmt.Sprintf("unknown column %q", ref)}
			}
			return 0, nil
		})
		return err
	}

	for _, row := range rows {
		_, err := expr.Eval(func(ref string) (float64, error) {
			raw, ok := row[lookup(ref)]
			if !ok {
				return 0, &formula.EvalError{Msg: fmt.Sprintf("unknown column %q", ref)}
			}
			if strings.TrimSpace(raw) == "" {
				return 0, nil
			}
			return formula.ParseNumber(raw)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
