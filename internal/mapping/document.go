// Package mapping implements the layered mapping engine: the header, lookup,
// and computed matchers plus the session orchestrator that drives them in
// template layer order and folds their results into a mapping document.
package mapping

import (
	"github.com/ignite/template-mapper/internal/schema"
)

// Origin records how a suggestion was produced.
type Origin string

const (
	OriginExact      Origin = "exact"
	OriginFuzzy      Origin = "fuzzy"
	OriginEmbedding  Origin = "embedding"
	OriginGenerative Origin = "generative"
	OriginUser       Origin = "user"
)

// Suggestion is one proposed source-to-target association. Immutable once
// created; the document stores the currently accepted suggestion per target
// key and a user override always wins.
type Suggestion struct {
	SourceKey  string  `json:"source_key"`
	TargetKey  string  `json:"target_key"`
	Confidence float64 `json:"confidence"`
	Origin     Origin  `json:"origin"`
}

// Unresolved reports a target field or source value the layer could not map,
// with the reason, for caller/UI presentation.
type Unresolved struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ComputedResult records how a computed layer resolved its target field.
// Direct candidates carry the matched column in SourceCols and no
// expression; derived and user-authored results carry the bound expression
// and every column it references.
type ComputedResult struct {
	TargetField string   `json:"target_field"`
	Method      string   `json:"method"`
	Expression  string   `json:"expression,omitempty"`
	SourceCols  []string `json:"source_cols"`
}

// LayerOutcome is the result of running one template layer.
type LayerOutcome struct {
	Index       int              `json:"index"`
	Type        schema.LayerType `json:"type"`
	Suggestions []Suggestion     `json:"suggestions"`
	Computed    *ComputedResult  `json:"computed,omitempty"`
	Unresolved  []Unresolved     `json:"unresolved,omitempty"`
}

// Document is the accumulated, session-scoped record of accepted suggestions
// and resolved computed expressions. Layers fill in as they run; a nil entry
// means the layer has not run yet. Overrides sit beside the layer outcomes
// and survive any layer re-run short of a full reset.
type Document struct {
	TemplateGUID string                `json:"template_guid,omitempty"`
	TemplateName string                `json:"template_name"`
	Layers       []*LayerOutcome       `json:"layers"`
	Overrides    map[string]Suggestion `json:"overrides,omitempty"`
}

func newDocument(t *schema.Template) *Document {
	return &Document{
		TemplateGUID: t.GUID,
		TemplateName: t.Name,
		Layers:       make([]*LayerOutcome, len(t.Layers)),
		Overrides:    make(map[string]Suggestion),
	}
}

// Accepted returns the currently accepted suggestion per target key across
// all resolved layers, with user overrides taking precedence.
func (d *Document) Accepted() map[string]Suggestion {
	out := make(map[string]Suggestion)
	for _, layer := range d.Layers {
		if layer == nil {
			continue
		}
		for _, s := range layer.Suggestions {
			out[s.TargetKey] = s
		}
	}
	for k, s := range d.Overrides {
		out[k] = s
	}
	return out
}

// Outcome returns the recorded outcome for layer i, or nil if it has not run.
func (d *Document) Outcome(i int) *LayerOutcome {
	if i < 0 || i >= len(d.Layers) {
		return nil
	}
	return d.Layers[i]
}
