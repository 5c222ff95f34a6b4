package formula

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(vals map[string]float64) Env {
	return func(col string) (float64, error) {
		v, ok := vals[col]
		if !ok {
			return 0, fmt.Errorf("unknown column %q", col)
		}
		return v, nil
	}
}

func TestParseAndEval(t *testing.T) {
	env := mapEnv(map[string]float64{
		"A": 10, "B": 4, "Ending Balance": 120.5, "Beginning Balance": 100,
	})

	tests := []struct {
		expr string
		want float64
	}{
		{"A + B", 14},
		{"A - B * 2", 2},
		{"(A - B) * 2", 12},
		{"A / B", 2.5},
		{"-A + 1", -9},
		{"[Ending Balance] - [Beginning Balance]", 20.5},
		{"A > B", 1},
		{"A == 10", 1},
		{"A != 10", 0},
		{"A % 3", 1},
		{"2 + 3 * 4", 14},
		{"A >= 10", 1},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			got, err := e.Eval(env)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"A +",
		"(A + B",
		"[Unclosed",
		"A ! B",
		"A & B",
		"$",
		"A B",
	}
	for _, src := range bad {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			assert.Error(t, err)
		})
	}
}

func TestNoArbitraryCode(t *testing.T) {
	// Function-call and member-access shapes must not parse.
	for _, src := range []string{"open(x)", "a.b", `__import__`} {
		e, err := Parse(src)
		if err != nil {
			continue
		}
		// "open(x)" style input cannot parse as a call; identifiers adjoining
		// parentheses are trailing input. Anything that slipped through must
		// only ever resolve as a plain column name.
		cols := e.Columns()
		assert.NotEmpty(t, cols)
	}

	_, err := Parse("open(x)")
	assert.Error(t, err)
	_, err = Parse("a.b")
	assert.Error(t, err)
}

func TestEvalErrors(t *testing.T) {
	env := mapEnv(map[string]float64{"A": 1})

	e, err := Parse("A / 0")
	require.NoError(t, err)
	_, err = e.Eval(env)
	var everr *EvalError
	require.ErrorAs(t, err, &everr)

	e, err = Parse("Missing + 1")
	require.NoError(t, err)
	_, err = e.Eval(env)
	require.ErrorAs(t, err, &everr)
}

func TestPlaceholdersAndBind(t *testing.T) {
	e, err := Parse("$END - $BEGIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"END", "BEGIN"}, e.Placeholders())

	// Unbound placeholder evaluation fails.
	_, err = e.Eval(mapEnv(nil))
	var everr *EvalError
	require.ErrorAs(t, err, &everr)

	bound, err := e.Bind(map[string]string{"END": "Ending Balance", "BEGIN": "Beginning Balance"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ending Balance", "Beginning Balance"}, bound.Columns())

	got, err := bound.Eval(mapEnv(map[string]float64{"Ending Balance": 120, "Beginning Balance": 100}))
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)

	// Partial binds are rejected.
	_, err = e.Bind(map[string]string{"END": "Ending Balance"})
	assert.Error(t, err)
}

func TestCanonicalString(t *testing.T) {
	e, err := Parse("$END-$BEGIN")
	require.NoError(t, err)
	bound, err := e.Bind(map[string]string{"END": "Ending Balance", "BEGIN": "Begin"})
	require.NoError(t, err)
	assert.Equal(t, "([Ending Balance] - Begin)", bound.String())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"42", 42, false},
		{" 1,234.50 ", 1234.5, false},
		{"$99", 99, false},
		{"(250)", -250, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseNumber(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
