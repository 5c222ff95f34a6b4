package mapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/schema"
)

type stubDictionary map[string][]string

func (d stubDictionary) Terms(_ context.Context, name string) ([]string, error) {
	return d[name], nil
}

func ledgerTemplate() *schema.Template {
	return &schema.Template{
		Name: "ledger",
		Layers: []schema.Layer{
			{
				Type: schema.LayerHeader,
				Fields: []schema.FieldSpec{
					{Key: "Account Name", Required: true},
					{Key: "Beginning Balance"},
					{Key: "Ending Balance"},
				},
			},
			{
				Type:        schema.LayerLookup,
				SourceField: "Category",
				TargetField: "Ledger Category",
				Dictionary:  "categories",
			},
			{
				Type:        schema.LayerComputed,
				TargetField: "NET_CHANGE",
				Formula: &schema.Formula{
					Strategy: schema.StrategyFirstAvailable,
					Candidates: []schema.Candidate{
						{Type: schema.CandidateDirect, SourceCandidates: []string{"NET_CHANGE"}},
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
			},
		},
	}
}

func ledgerTable() *dataset.Table {
	return dataset.New(
		[]string{"Account_Name", "Begin Balance", "Ending Balance", "Category"},
		[][]string{
			{"Cash", "100", "150", "AR"},
			{"Payroll", "200", "120", "accounts payable"},
		},
	)
}

func ledgerSession(comp *stubCompleter) *Session {
	caps := Capabilities{Embedder: &stubEmbedder{vecs: accountVectors()}}
	if comp != nil {
		caps.Completer = comp
	}
	dict := stubDictionary{"categories": {"Accounts Receivable", "Accounts Payable"}}
	return NewSession(ledgerTemplate(), ledgerTable(), caps, dict, testConfig())
}

func TestSessionRunAllLayers(t *testing.T) {
	s := ledgerSession(nil)
	ctx := context.Background()
	assert.Equal(t, StatePending, s.State())

	doc, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, s.State())

	// Header layer.
	header := doc.Outcome(0)
	require.NotNil(t, header)
	accepted := doc.Accepted()
	assert.Equal(t, "Account_Name", accepted["Account Name"].SourceKey)
	assert.Equal(t, "Begin Balance", accepted["Beginning Balance"].SourceKey)
	assert.Equal(t, "Ending Balance", accepted["Ending Balance"].SourceKey)

	// Lookup layer maps distinct values onto dictionary terms.
	lookup := doc.Outcome(1)
	require.NotNil(t, lookup)
	byValue := make(map[string]Suggestion)
	for _, sug := range lookup.Suggestions {
		byValue[sug.SourceKey] = sug
	}
	assert.Equal(t, "Accounts Receivable", byValue["AR"].TargetKey)
	assert.Equal(t, OriginExact, byValue["accounts payable"].Origin)

	// Computed layer derives NET_CHANGE because no direct column exists;
	// "Beginning Balance" resolves through the header layer's mapping.
	computed := doc.Outcome(2)
	require.NotNil(t, computed)
	require.NotNil(t, computed.Computed)
	assert.Equal(t, schema.CandidateDerived, computed.Computed.Method)
	assert.Equal(t, []string{"Ending Balance", "Begin Balance"}, computed.Computed.SourceCols)
}

func TestSessionRunNextLayerSequence(t *testing.T) {
	s := ledgerSession(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := s.RunNextLayer(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, out.Index)
	}
	_, err := s.RunNextLayer(ctx)
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestSessionIdempotentRerun(t *testing.T) {
	ctx := context.Background()

	s := ledgerSession(nil)
	doc1, err := s.Run(ctx)
	require.NoError(t, err)

	// Re-running a layer on the unchanged document yields the identical
	// outcome.
	before := *doc1.Outcome(1)
	out, err := s.RunLayer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, *out)

	// And two independent sessions over the same inputs agree.
	s2 := ledgerSession(nil)
	doc2, err := s2.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc1.Layers, doc2.Layers)
}

func TestSessionOverridesSurviveReruns(t *testing.T) {
	s := ledgerSession(nil)
	ctx := context.Background()

	_, err := s.Run(ctx)
	require.NoError(t, err)

	s.ApplyOverride("Beginning Balance", "Ending Balance")
	_, err = s.RunLayer(ctx, 1)
	require.NoError(t, err)

	got := s.Document().Accepted()["Beginning Balance"]
	assert.Equal(t, OriginUser, got.Origin)
	assert.Equal(t, "Ending Balance", got.SourceKey)
}

func TestSessionOverrideFeedsComputedLayer(t *testing.T) {
	tmpl := ledgerTemplate()
	tbl := dataset.New(
		[]string{"Account_Name", "Open Bal", "Ending Balance", "Category"},
		[][]string{{"Cash", "100", "150", "AR"}},
	)
	caps := Capabilities{Embedder: &stubEmbedder{vecs: accountVectors()}}
	dict := stubDictionary{"categories": {"Accounts Receivable"}}
	s := NewSession(tmpl, tbl, caps, dict, testConfig())
	ctx := context.Background()

	_, err := s.RunLayer(ctx, 0)
	require.NoError(t, err)
	_, err = s.RunLayer(ctx, 1)
	require.NoError(t, err)

	// The fuzzy pass cannot place "Beginning Balance" against "Open Bal";
	// the user points it there and the derived candidate picks it up.
	s.ApplyOverride("Beginning Balance", "Open Bal")
	out, err := s.RunLayer(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, out.Computed)
	assert.Equal(t, []string{"Ending Balance", "Open Bal"}, out.Computed.SourceCols)
}

func TestSessionProposeExpression(t *testing.T) {
	tmpl := &schema.Template{
		Name: "custom",
		Layers: []schema.Layer{
			{
				Type:        schema.LayerComputed,
				TargetField: "MARGIN",
				Formula:     &schema.Formula{Strategy: schema.StrategyUserDefined},
			},
		},
	}
	tbl := dataset.New([]string{"Revenue", "Cost"}, [][]string{{"100", "60"}})
	s := NewSession(tmpl, tbl, Capabilities{}, stubDictionary{}, testConfig())

	// Running the layer before any proposal reports it unresolved.
	out, err := s.RunLayer(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out.Unresolved, 1)
	assert.Equal(t, "awaiting user expression", out.Unresolved[0].Reason)

	// A rejected expression leaves the document untouched.
	_, err = s.ProposeExpression(0, "Revenue - Expenses")
	var exprErr *ExpressionError
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, out, s.Document().Outcome(0))

	res, err := s.ProposeExpression(0, "Revenue - Cost")
	require.NoError(t, err)
	assert.Equal(t, []string{"Revenue", "Cost"}, res.SourceCols)
	require.NotNil(t, s.Document().Outcome(0))
	assert.Equal(t, StateComplete, s.State())
}

func TestSessionHeaderGenerativeFallback(t *testing.T) {
	tmpl := &schema.Template{
		Name: "freight",
		Layers: []schema.Layer{
			{
				Type:   schema.LayerHeader,
				Fields: []schema.FieldSpec{{Key: "Carrier SCAC", Required: true}},
			},
		},
	}
	tbl := dataset.New([]string{"Hauler Code", "Ship Date"}, [][]string{{"ABCD", "2024-01-01"}})
	comp := &stubCompleter{picks: map[string]string{"Carrier SCAC": "Hauler Code"}}
	s := NewSession(tmpl, tbl, Capabilities{Completer: comp}, stubDictionary{}, testConfig())

	out, err := s.RunLayer(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, out.Unresolved)
	require.Len(t, out.Suggestions, 1)
	assert.Equal(t, "Hauler Code", out.Suggestions[0].SourceKey)
	assert.Equal(t, OriginGenerative, out.Suggestions[0].Origin)
	assert.Equal(t, 0.6, out.Suggestions[0].Confidence)
}

func TestSessionReset(t *testing.T) {
	s := ledgerSession(nil)
	ctx := context.Background()

	_, err := s.Run(ctx)
	require.NoError(t, err)
	s.ApplyOverride("Beginning Balance", "Ending Balance")

	s.Reset()
	assert.Equal(t, StatePending, s.State())
	assert.Equal(t, 0, s.NextLayer())
	assert.Nil(t, s.Document().Outcome(0))
	assert.Empty(t, s.Document().Overrides)
}

func TestSessionMissingLookupColumn(t *testing.T) {
	tmpl := &schema.Template{
		Name: "ledger",
		Layers: []schema.Layer{
			{
				Type:        schema.LayerLookup,
				SourceField: "Category",
				TargetField: "Ledger Category",
				Dictionary:  "categories",
			},
		},
	}
	tbl := dataset.New([]string{"Account"}, [][]string{{"Cash"}})
	caps := Capabilities{Embedder: &stubEmbedder{}}
	s := NewSession(tmpl, tbl, caps, stubDictionary{"categories": {"X"}}, testConfig())

	out, err := s.RunLayer(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out.Unresolved, 1)
	assert.Equal(t, "Category", out.Unresolved[0].Key)
}
