package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/template-mapper/internal/schema"
)

func TestMatchHeadersLaneScenario(t *testing.T) {
	fields := []schema.FieldSpec{
		{Key: "Lane ID", Required: true},
		{Key: "Orig Zip"},
		{Key: "Dest Zip"},
	}
	columns := []string{"Lane_ID", "Origin Zip", "Destination Zip"}

	suggestions, unresolved := MatchHeaders(fields, columns)
	require.Len(t, suggestions, 3)
	assert.Empty(t, unresolved)

	byTarget := make(map[string]Suggestion)
	for _, s := range suggestions {
		byTarget[s.TargetKey] = s
	}

	lane := byTarget["Lane ID"]
	assert.Equal(t, "Lane_ID", lane.SourceKey)
	assert.Equal(t, 1.0, lane.Confidence)
	assert.Equal(t, OriginExact, lane.Origin)

	orig := byTarget["Orig Zip"]
	assert.Equal(t, "Origin Zip", orig.SourceKey)
	assert.Equal(t, OriginFuzzy, orig.Origin)
	assert.Greater(t, orig.Confidence, 0.7)

	dest := byTarget["Dest Zip"]
	assert.Equal(t, "Destination Zip", dest.SourceKey)
	assert.Greater(t, dest.Confidence, 0.7)
}

func TestMatchHeadersRequiredFloor(t *testing.T) {
	fields := []schema.FieldSpec{{Key: "Carrier SCAC", Required: true}}
	columns := []string{"Invoice Total", "Ship Date"}

	suggestions, unresolved := MatchHeaders(fields, columns)

	// Best-effort suggestion still emitted, but flagged.
	require.Len(t, suggestions, 1)
	assert.Less(t, suggestions[0].Confidence, HeaderFuzzyFloor)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "Carrier SCAC", unresolved[0].Key)
}

func TestMatchHeadersNoColumns(t *testing.T) {
	fields := []schema.FieldSpec{{Key: "Anything"}}
	suggestions, unresolved := MatchHeaders(fields, nil)
	assert.Empty(t, suggestions)
	require.Len(t, unresolved, 1)
}

func TestMatchHeadersTieBreaks(t *testing.T) {
	fields := []schema.FieldSpec{{Key: "Amount"}}

	// The exact match wins no matter where it sits in the column list.
	s1, _ := MatchHeaders(fields, []string{"Amount Due USD", "Amount"})
	require.Len(t, s1, 1)
	assert.Equal(t, "Amount", s1[0].SourceKey)

	// Deterministic regardless of input order.
	s2, _ := MatchHeaders(fields, []string{"Amount", "Amount Due USD"})
	assert.Equal(t, s1, s2)
}

func TestMatchHeadersAbbreviations(t *testing.T) {
	fields := []schema.FieldSpec{{Key: "Shipment Number"}}
	suggestions, _ := MatchHeaders(fields, []string{"Shipment No", "Carrier"})
	require.Len(t, suggestions, 1)
	assert.Equal(t, "Shipment No", suggestions[0].SourceKey)
	assert.Greater(t, suggestions[0].Confidence, 0.7)
}
