package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHeaderOnly(t *testing.T) {
	raw := []byte(`{
		"template_name": "pit-bid",
		"layers": [
			{"type": "header", "fields": [{"key": "Lane ID"}, {"key": "Orig Zip"}]}
		]
	}`)

	tpl, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "pit-bid", tpl.Name)
	require.Len(t, tpl.Layers, 1)
	assert.Equal(t, LayerHeader, tpl.Layers[0].Type)
	assert.Len(t, tpl.Layers[0].Fields, 2)
}

func TestValidateEmptyLayersFails(t *testing.T) {
	_, err := Validate([]byte(`{"template_name": "oops", "layers": []}`))
	require.Error(t, err)
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
}

func TestLegacyFlatTemplateUpgrades(t *testing.T) {
	raw := []byte(`{
		"template_name": "legacy",
		"fields": [{"key": "Account"}, {"key": "Balance", "required": true}]
	}`)

	tpl, err := Validate(raw)
	require.NoError(t, err)
	require.Len(t, tpl.Layers, 1)
	assert.Equal(t, LayerHeader, tpl.Layers[0].Type)

	keys := make([]string, 0, len(tpl.Layers[0].Fields))
	for _, f := range tpl.Layers[0].Fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"Account", "Balance"}, keys)
	assert.True(t, tpl.Layers[0].Fields[1].Required)
}

func TestLegacyBareStringFields(t *testing.T) {
	tpl, err := Validate([]byte(`{"template_name": "legacy", "fields": ["A", "B"]}`))
	require.NoError(t, err)
	require.Len(t, tpl.Layers, 1)
	assert.Equal(t, "A", tpl.Layers[0].Fields[0].Key)
	assert.Equal(t, "B", tpl.Layers[0].Fields[1].Key)
}

func TestUnknownKeysPreserved(t *testing.T) {
	raw := []byte(`{
		"template_name": "coa",
		"postprocess": {"url": "https://example.com/hook"},
		"layers": [
			{"type": "header", "future_knob": 7, "fields": [{"key": "A"}]}
		]
	}`)

	tpl, err := Validate(raw)
	require.NoError(t, err)
	assert.Contains(t, tpl.Extra, "postprocess")
	assert.Contains(t, tpl.Layers[0].Extra, "future_knob")

	// Round-trip keeps the opaque keys at both levels.
	out, err := json.Marshal(tpl.Layers[0])
	require.NoError(t, err)
	var round map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Contains(t, round, "future_knob")

	out, err = json.Marshal(tpl)
	require.NoError(t, err)
	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &top))
	assert.Contains(t, top, "postprocess")
	assert.Contains(t, top, "template_name")
}

func TestLookupLayerShape(t *testing.T) {
	tests := []struct {
		name    string
		layer   string
		wantErr bool
	}{
		{"complete", `{"type":"lookup","source_field":"GL_NAME","target_field":"GL_ID","dictionary_sheet":"accounts"}`, false},
		{"missing source", `{"type":"lookup","target_field":"GL_ID","dictionary_sheet":"accounts"}`, true},
		{"missing dictionary", `{"type":"lookup","source_field":"GL_NAME","target_field":"GL_ID"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(`{"template_name":"t","layers":[` + tt.layer + `]}`)
			_, err := Validate(raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestComputedFormulaValidation(t *testing.T) {
	good := []byte(`{"template_name":"t","layers":[{
		"type": "computed",
		"target_field": "NET_CHANGE",
		"formula": {
			"strategy": "first_available",
			"candidates": [
				{"type": "direct", "source_candidates": ["NET_CHANGE", "Change"]},
				{"type": "derived", "expression": "$END-$BEGIN",
				 "dependencies": {"END": ["Ending Balance"], "BEGIN": ["Beginning Balance"]}}
			]
		}
	}]}`)
	_, err := Validate(good)
	require.NoError(t, err)

	// Placeholder without a dependency entry is a structural error.
	bad := []byte(`{"template_name":"t","layers":[{
		"type": "computed",
		"target_field": "X",
		"formula": {
			"strategy": "first_available",
			"candidates": [{"type": "derived", "expression": "$A+$B", "dependencies": {"A": ["ColA"]}}]
		}
	}]}`)
	_, err = Validate(bad)
	require.Error(t, err)
}

func TestUserDefinedExpressionOptional(t *testing.T) {
	// The author supplies the expression interactively; a template may
	// carry the layer before one has been stored.
	raw := []byte(`{"template_name":"t","layers":[{
		"type": "computed",
		"target_field": "RATIO",
		"formula": {"strategy": "user_defined"}
	}]}`)
	tpl, err := Validate(raw)
	require.NoError(t, err)
	assert.Empty(t, tpl.Layers[0].Formula.Expression)

	// always still needs one up front.
	raw = []byte(`{"template_name":"t","layers":[{
		"type": "computed",
		"target_field": "RATIO",
		"formula": {"strategy": "always"}
	}]}`)
	_, err = Validate(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an expression")
}

func TestInvalidGUID(t *testing.T) {
	raw := []byte(`{"template_guid":"not-a-uuid","template_name":"t","layers":[{"type":"header","fields":[{"key":"A"}]}]}`)
	_, err := Validate(raw)
	assert.Error(t, err)

	raw = []byte(`{"template_guid":"1b4e28ba-2fa1-11d2-883f-0016d3cca427","template_name":"t","layers":[{"type":"header","fields":[{"key":"A"}]}]}`)
	_, err = Validate(raw)
	assert.NoError(t, err)
}

func TestDuplicateFieldKeys(t *testing.T) {
	raw := []byte(`{"template_name":"t","layers":[{"type":"header","fields":[{"key":"A"},{"key":"A"}]}]}`)
	_, err := Validate(raw)
	assert.Error(t, err)
}
