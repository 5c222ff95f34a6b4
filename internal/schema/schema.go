// Package schema holds the typed template model and its structural validation.
// A template declares an ordered list of mapping layers; layer order is the
// execution order, because computed layers may reference fields resolved by
// earlier layers.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// LayerType tags the variant of a Layer.
type LayerType string

const (
	LayerHeader   LayerType = "header"
	LayerLookup   LayerType = "lookup"
	LayerComputed LayerType = "computed"
)

// Formula strategies.
const (
	StrategyFirstAvailable = "first_available"
	StrategyUserDefined    = "user_defined"
	StrategyAlways         = "always"
)

// Candidate kinds for first_available formulas.
const (
	CandidateDirect  = "direct"
	CandidateDerived = "derived"
)

// FieldSpec describes one target field of a header layer.
type FieldSpec struct {
	Key      string `json:"key"`
	TypeHint string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Candidate is one ordered rule tried by a first_available formula.
// Direct candidates list acceptable source-column name variants; derived
// candidates carry an expression with $PLACEHOLDER tokens and a dependency
// map from placeholder to accepted column variants.
type Candidate struct {
	Type             string              `json:"type"`
	SourceCandidates []string            `json:"source_candidates,omitempty"`
	Expression       string              `json:"expression,omitempty"`
	Dependencies     map[string][]string `json:"dependencies,omitempty"`
}

// Formula describes how a computed layer derives its target field.
type Formula struct {
	Strategy     string              `json:"strategy"`
	Candidates   []Candidate         `json:"candidates,omitempty"`
	Expression   string              `json:"expression,omitempty"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
}

// Layer is a tagged union over the header/lookup/computed variants.
// Unknown keys are preserved in Extra and never interpreted.
type Layer struct {
	Type        LayerType `json:"type"`
	Sheet       string    `json:"sheet,omitempty"`
	Description string    `json:"description,omitempty"`

	// Header variant
	Fields []FieldSpec `json:"fields,omitempty"`

	// Lookup variant
	SourceField string `json:"source_field,omitempty"`
	TargetField string `json:"target_field,omitempty"` // shared with computed
	Dictionary  string `json:"dictionary_sheet,omitempty"`

	// Computed variant
	Formula *Formula `json:"formula,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Template is the root of the schema model.
type Template struct {
	GUID   string  `json:"template_guid,omitempty"`
	Name   string  `json:"template_name"`
	Layers []Layer `json:"layers"`

	Extra map[string]json.RawMessage `json:"-"`
}

var layerKnownKeys = map[string]bool{
	"type": true, "sheet": true, "description": true, "fields": true,
	"source_field": true, "target_field": true, "dictionary_sheet": true,
	"formula": true,
}

var templateKnownKeys = map[string]bool{
	"template_guid": true, "template_name": true, "layers": true, "fields": true,
}

// UnmarshalJSON decodes a layer while stashing unknown keys into Extra.
func (l *Layer) UnmarshalJSON(data []byte) error {
	type alias Layer
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*l = Layer(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if !layerKnownKeys[k] {
			if l.Extra == nil {
				l.Extra = make(map[string]json.RawMessage)
			}
			l.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON re-emits the layer including preserved unknown keys.
func (l Layer) MarshalJSON() ([]byte, error) {
	type alias Layer
	base, err := json.Marshal(alias(l))
	if err != nil {
		return nil, err
	}
	if len(l.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range l.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// MarshalJSON re-emits the template including preserved unknown keys.
func (t Template) MarshalJSON() ([]byte, error) {
	type alias Template
	base, err := json.Marshal(alias(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// SchemaError reports a structural problem with a template. It aborts the
// mapping session before any layer runs.
type SchemaError struct {
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return "schema: " + e.Msg
	}
	return fmt.Sprintf("schema: %s: %s", e.Path, e.Msg)
}

func schemaErrf(path, format string, args ...interface{}) error {
	return &SchemaError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

var placeholderRe = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`)

// Validate parses and structurally validates raw template JSON.
//
// A legacy flat template (no "layers" key, terminal "fields" list at the top
// level) is auto-upgraded into an equivalent single header layer before
// validation. That is the only implicit conversion; everything else must
// declare layers explicitly.
func Validate(raw []byte) (*Template, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &SchemaError{Msg: "not a JSON object: " + err.Error()}
	}

	if _, hasLayers := top["layers"]; !hasLayers {
		upgraded, err := upgradeLegacy(top)
		if err != nil {
			return nil, err
		}
		top = upgraded
	}

	var t Template
	merged, _ := json.Marshal(top)
	if err := json.Unmarshal(merged, &t); err != nil {
		return nil, &SchemaError{Msg: err.Error()}
	}
	for k, v := range top {
		if !templateKnownKeys[k] {
			if t.Extra == nil {
				t.Extra = make(map[string]json.RawMessage)
			}
			t.Extra[k] = v
		}
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// upgradeLegacy converts a flat template (top-level "fields") into the
// layered shape.
func upgradeLegacy(top map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	rawFields, ok := top["fields"]
	if !ok {
		return nil, &SchemaError{Msg: `missing "layers"`}
	}

	// Legacy fields may be full specs or bare strings.
	var specs []FieldSpec
	if err := json.Unmarshal(rawFields, &specs); err != nil {
		var names []string
		if err2 := json.Unmarshal(rawFields, &names); err2 != nil {
			return nil, schemaErrf("fields", "unrecognized legacy field list")
		}
		for _, n := range names {
			specs = append(specs, FieldSpec{Key: n})
		}
	}

	layer := map[string]interface{}{"type": LayerHeader, "fields": specs}
	layersJSON, err := json.Marshal([]interface{}{layer})
	if err != nil {
		return nil, &SchemaError{Msg: err.Error()}
	}

	out := make(map[string]json.RawMessage, len(top))
	for k, v := range top {
		if k == "fields" {
			continue
		}
		out[k] = v
	}
	out["layers"] = layersJSON
	return out, nil
}

func (t *Template) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return schemaErrf("template_name", "must not be empty")
	}
	if t.GUID != "" {
		if _, err := uuid.Parse(t.GUID); err != nil {
			return schemaErrf("template_guid", "not a valid UUID: %q", t.GUID)
		}
	}
	if len(t.Layers) == 0 {
		return schemaErrf("layers", "template must contain at least one layer")
	}

	for i := range t.Layers {
		if err := t.Layers[i].validate(fmt.Sprintf("layers[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layer) validate(path string) error {
	switch l.Type {
	case LayerHeader:
		if len(l.Fields) == 0 {
			return schemaErrf(path, "header layer requires at least one field")
		}
		seen := make(map[string]bool, len(l.Fields))
		for j, f := range l.Fields {
			if strings.TrimSpace(f.Key) == "" {
				return schemaErrf(fmt.Sprintf("%s.fields[%d]", path, j), "field key must not be empty")
			}
			if seen[f.Key] {
				return schemaErrf(path, "duplicate field key %q", f.Key)
			}
			seen[f.Key] = true
		}
	case LayerLookup:
		if l.SourceField == "" {
			return schemaErrf(path, "lookup layer requires source_field")
		}
		if l.TargetField == "" {
			return schemaErrf(path, "lookup layer requires target_field")
		}
		if l.Dictionary == "" {
			return schemaErrf(path, "lookup layer requires dictionary_sheet")
		}
	case LayerComputed:
		if l.TargetField == "" {
			return schemaErrf(path, "computed layer requires target_field")
		}
		if l.Formula == nil {
			return schemaErrf(path, "computed layer requires formula")
		}
		return l.Formula.validate(path + ".formula")
	default:
		return schemaErrf(path, "unrecognized layer type %q", l.Type)
	}
	return nil
}

func (f *Formula) validate(path string) error {
	switch f.Strategy {
	case StrategyFirstAvailable:
		if len(f.Candidates) == 0 {
			return schemaErrf(path, "first_available requires at least one candidate")
		}
		for j := range f.Candidates {
			if err := f.Candidates[j].validate(fmt.Sprintf("%s.candidates[%d]", path, j)); err != nil {
				return err
			}
		}
	case StrategyUserDefined:
		// Expression is optional here: the author supplies one
		// interactively and it is stored only after it validates.
	case StrategyAlways:
		if strings.TrimSpace(f.Expression) == "" {
			return schemaErrf(path, "always strategy requires an expression")
		}
	case "":
		return schemaErrf(path, "missing strategy")
	default:
		return schemaErrf(path, "unrecognized strategy %q", f.Strategy)
	}
	return nil
}

func (c *Candidate) validate(path string) error {
	switch c.Type {
	case CandidateDirect:
		if len(c.SourceCandidates) == 0 {
			return schemaErrf(path, "direct candidate requires source_candidates")
		}
	case CandidateDerived:
		if strings.TrimSpace(c.Expression) == "" {
			return schemaErrf(path, "derived candidate requires an expression")
		}
		if len(c.Dependencies) == 0 {
			return schemaErrf(path, "derived candidate requires dependencies")
		}
		for _, ph := range placeholderRe.FindAllString(c.Expression, -1) {
			name := strings.TrimPrefix(ph, "$")
			if _, ok := c.Dependencies[name]; !ok {
				return schemaErrf(path, "placeholder %s has no dependency entry", ph)
			}
		}
	default:
		return schemaErrf(path, "unrecognized candidate type %q", c.Type)
	}
	return nil
}

// HeaderLayers returns the indices of all header layers, in order.
func (t *Template) HeaderLayers() []int {
	var out []int
	for i, l := range t.Layers {
		if l.Type == LayerHeader {
			out = append(out, i)
		}
	}
	return out
}
