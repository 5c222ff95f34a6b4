package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/schema"
)

func balanceTable(t *testing.T) *dataset.Table {
	t.Helper()
	return dataset.New(
		[]string{"Account", "Beginning Balance", "Ending Balance"},
		[][]string{
			{"1000", "100.00", "150.00"},
			{"2000", "$1,200.50", "$900.00"},
			{"3000", "", "10"},
		},
	)
}

func envFor(tbl *dataset.Table) map[string]string {
	env := make(map[string]string)
	for _, c := range tbl.Columns {
		env[Key(c)] = c
	}
	return env
}

func netChangeLayer() schema.Layer {
	return schema.Layer{
		Type:        schema.LayerComputed,
		TargetField: "NET_CHANGE",
		Formula: &schema.Formula{
			Strategy: schema.StrategyFirstAvailable,
			Candidates: []schema.Candidate{
				{Type: schema.CandidateDirect, SourceCandidates: []string{"NET_CHANGE", "Change"}},
				{
					Type:       schema.CandidateDerived,
					Expression: "$END - $BEGIN",
					Dependencies: map[string][]string{
						"END":   {"Ending Balance"},
						"BEGIN": {"Beginning Balance"},
					},
				},
			},
		},
	}
}

func TestResolveComputedDerivedFallback(t *testing.T) {
	tbl := balanceTable(t)

	res, err := ResolveComputed(netChangeLayer(), envFor(tbl), tbl, 5, "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, schema.CandidateDerived, res.Method)
	assert.Equal(t, []string{"Ending Balance", "Beginning Balance"}, res.SourceCols)
	assert.Equal(t, "([Ending Balance] - [Beginning Balance])", res.Expression)
}

func TestResolveComputedFirstCandidateWins(t *testing.T) {
	tbl := dataset.New(
		[]string{"Change", "Beginning Balance", "Ending Balance"},
		[][]string{{"50", "100", "150"}},
	)

	// The direct candidate matches, so the derived one is never attempted
	// even though it would also succeed.
	res, err := ResolveComputed(netChangeLayer(), envFor(tbl), tbl, 5, "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, schema.CandidateDirect, res.Method)
	assert.Equal(t, []string{"Change"}, res.SourceCols)
	assert.Empty(t, res.Expression)
}

func TestResolveComputedNoCandidate(t *testing.T) {
	tbl := dataset.New([]string{"Account"}, [][]string{{"1000"}})

	res, err := ResolveComputed(netChangeLayer(), envFor(tbl), tbl, 5, "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolveComputedDerivedRejectsBadData(t *testing.T) {
	tbl := dataset.New(
		[]string{"Beginning Balance", "Ending Balance"},
		[][]string{{"n/a", "pending"}},
	)

	// The derived candidate resolves its dependencies but fails sample
	// evaluation, so the layer reports unresolved.
	res, err := ResolveComputed(netChangeLayer(), envFor(tbl), tbl, 5, "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func userDefinedLayer(expr string) schema.Layer {
	return schema.Layer{
		Type:        schema.LayerComputed,
		TargetField: "RATIO",
		Formula:     &schema.Formula{Strategy: schema.StrategyUserDefined, Expression: expr},
	}
}

func TestResolveComputedUserDefined(t *testing.T) {
	tbl := balanceTable(t)

	res, err := ResolveComputed(userDefinedLayer(""), envFor(tbl), tbl, 5, "[Ending Balance] - [Beginning Balance]")
	require.NoError(t, err)
	assert.Equal(t, schema.StrategyUserDefined, res.Method)
	assert.Equal(t, "[Ending Balance] - [Beginning Balance]", res.Expression)
	assert.Equal(t, []string{"Ending Balance", "Beginning Balance"}, res.SourceCols)
}

func TestResolveComputedUserDefinedAwaitsExpression(t *testing.T) {
	tbl := balanceTable(t)

	// Nothing proposed and nothing stored: unresolved, not an error.
	res, err := ResolveComputed(userDefinedLayer(""), envFor(tbl), tbl, 5, "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolveComputedUserDefinedUnknownColumn(t *testing.T) {
	tbl := balanceTable(t)

	_, err := ResolveComputed(userDefinedLayer(""), envFor(tbl), tbl, 5, "[Closing Balance] * 2")
	var exprErr *ExpressionError
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, "RATIO", exprErr.Target)
}

func TestResolveComputedUserDefinedDivisionByZero(t *testing.T) {
	tbl := dataset.New([]string{"A", "B"}, [][]string{{"10", "0"}})

	_, err := ResolveComputed(userDefinedLayer(""), envFor(tbl), tbl, 5, "A / B")
	var exprErr *ExpressionError
	require.ErrorAs(t, err, &exprErr)
}

func TestResolveComputedUserDefinedNormalizedReference(t *testing.T) {
	tbl := balanceTable(t)

	// References resolve through the comparison key, so the user can type
	// the column without exact casing or separators.
	res, err := ResolveComputed(userDefinedLayer(""), envFor(tbl), tbl, 5, "ending_balance - beginning_balance")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ending Balance", "Beginning Balance"}, res.SourceCols)
}

func TestResolveComputedUserDefinedRejectsPlaceholder(t *testing.T) {
	tbl := balanceTable(t)

	_, err := ResolveComputed(userDefinedLayer(""), envFor(tbl), tbl, 5, "$END - 1")
	var exprErr *ExpressionError
	require.ErrorAs(t, err, &exprErr)
	assert.Contains(t, exprErr.Err.Error(), "placeholder")
}

func TestResolveComputedAlways(t *testing.T) {
	tbl := balanceTable(t)

	layer := schema.Layer{
		Type:        schema.LayerComputed,
		TargetField: "FLAG",
		Formula:     &schema.Formula{Strategy: schema.StrategyAlways, Expression: "1"},
	}
	res, err := ResolveComputed(layer, envFor(tbl), tbl, 5, "")
	require.NoError(t, err)
	assert.Equal(t, schema.StrategyAlways, res.Method)
	assert.Equal(t, "1", res.Expression)

	layer.Formula.Expression = "[Account] / 0"
	_, err = ResolveComputed(layer, envFor(tbl), tbl, 5, "")
	assert.Error(t, err)
}
