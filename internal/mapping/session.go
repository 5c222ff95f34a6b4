package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/template-mapper/internal/ai"
	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/pkg/logger"
	"github.com/ignite/template-mapper/internal/pkg/retry"
	"github.com/ignite/template-mapper/internal/schema"
)

// State tracks a session through its layer sequence.
type State string

const (
	StatePending       State = "pending"
	StateLayerRunning  State = "layer_in_progress"
	StateLayerResolved State = "layer_resolved"
	StateComplete      State = "complete"
)

// ErrSessionComplete is returned by RunNextLayer once every layer has run.
var ErrSessionComplete = errors.New("mapping: all layers resolved")

// Capabilities are the injected AI providers. Completer may be nil, which
// disables the generative fallback for both header and lookup layers.
type Capabilities struct {
	Embedder  ai.Embedder
	Completer ai.Completer
}

// DictionaryProvider supplies the authorized terms for a lookup layer's
// named dictionary.
type DictionaryProvider interface {
	Terms(ctx context.Context, name string) ([]string, error)
}

// Config carries the engine's tunables.
type Config struct {
	// LookupThreshold is the minimum cosine similarity for an embedding
	// match; values scoring below it go to the generative fallback.
	LookupThreshold float64

	// GenerativeConfidence is the fixed confidence assigned to fallback
	// matches, which are not independently scored.
	GenerativeConfidence float64

	// SampleRows bounds how many rows a computed expression is evaluated
	// against before acceptance.
	SampleRows int

	// Retry bounds backoff around each provider batch.
	Retry retry.Policy
}

func DefaultConfig() Config {
	return Config{
		LookupThreshold:      0.75,
		GenerativeConfidence: 0.6,
		SampleRows:           5,
		Retry:                retry.DefaultPolicy(),
	}
}

// Session owns one mapping document for the duration of a mapping run.
// Layers run strictly in template order because computed layers may depend
// on columns resolved earlier; the caller drives when each layer begins and
// may abandon the session between layers with no cleanup beyond discarding
// it. Sessions are not safe for concurrent use.
type Session struct {
	ID string

	tmpl *schema.Template
	tbl  *dataset.Table
	caps Capabilities
	dict DictionaryProvider
	cfg  Config

	doc       *Document
	next      int
	state     State
	userExprs map[string]string
}

func NewSession(tmpl *schema.Template, tbl *dataset.Table, caps Capabilities, dict DictionaryProvider, cfg Config) *Session {
	if cfg.LookupThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Session{
		ID:        uuid.NewString(),
		tmpl:      tmpl,
		tbl:       tbl,
		caps:      caps,
		dict:      dict,
		cfg:       cfg,
		doc:       newDocument(tmpl),
		state:     StatePending,
		userExprs: make(map[string]string),
	}
}

func (s *Session) State() State        { return s.state }
func (s *Session) Document() *Document { return s.doc }
func (s *Session) NextLayer() int      { return s.next }

// RunNextLayer runs the next unvisited layer and returns its outcome.
func (s *Session) RunNextLayer(ctx context.Context) (*LayerOutcome, error) {
	if s.next >= len(s.tmpl.Layers) {
		s.state = StateComplete
		return nil, ErrSessionComplete
	}
	return s.RunLayer(ctx, s.next)
}

// RunLayer runs (or re-runs) layer index. Re-running replaces only that
// layer's outcome; other layers' results and all user overrides are
// preserved. With deterministic capabilities a re-run on an unchanged
// document yields identical suggestions.
func (s *Session) RunLayer(ctx context.Context, index int) (*LayerOutcome, error) {
	if index < 0 || index >= len(s.tmpl.Layers) {
		return nil, fmt.Errorf("mapping: layer index %d out of range", index)
	}

	layer := s.tmpl.Layers[index]
	s.state = StateLayerRunning
	logger.Debug("running layer", "session", s.ID, "layer", index, "type", string(layer.Type))

	var out *LayerOutcome
	var err error
	switch layer.Type {
	case schema.LayerHeader:
		out = s.runHeader(ctx, index, layer)
	case schema.LayerLookup:
		out, err = s.runLookup(ctx, index, layer)
	case schema.LayerComputed:
		out, err = s.runComputed(index, layer)
	default:
		err = fmt.Errorf("mapping: unrecognized layer type %q", layer.Type)
	}
	if err != nil {
		s.state = StateLayerResolved
		return out, err
	}

	s.doc.Layers[index] = out
	if index == s.next {
		s.next++
	}
	if s.next >= len(s.tmpl.Layers) {
		s.state = StateComplete
	} else {
		s.state = StateLayerResolved
	}
	return out, nil
}

// Run drives every remaining layer in order and returns the document.
func (s *Session) Run(ctx context.Context) (*Document, error) {
	for s.next < len(s.tmpl.Layers) {
		if _, err := s.RunLayer(ctx, s.next); err != nil {
			return s.doc, err
		}
	}
	s.state = StateComplete
	return s.doc, nil
}

// ApplyOverride writes a user decision for targetKey directly into the
// document, bypassing the matchers. Overrides always take precedence and
// survive re-runs of any layer.
func (s *Session) ApplyOverride(targetKey, sourceKey string) {
	s.doc.Overrides[targetKey] = Suggestion{
		SourceKey:  sourceKey,
		TargetKey:  targetKey,
		Confidence: 1,
		Origin:     OriginUser,
	}
}

// Reset discards the document, overrides, and stored user expressions and
// rewinds the session to the first layer.
func (s *Session) Reset() {
	s.doc = newDocument(s.tmpl)
	s.next = 0
	s.state = StatePending
	s.userExprs = make(map[string]string)
}

// ProposeExpression validates an interactively built expression for a
// user_defined computed layer. On success the expression is stored and the
// layer outcome recorded; on failure the document is unchanged and the
// rejection returned.
func (s *Session) ProposeExpression(index int, expr string) (*ComputedResult, error) {
	if index < 0 || index >= len(s.tmpl.Layers) {
		return nil, fmt.Errorf("mapping: layer index %d out of range", index)
	}
	layer := s.tmpl.Layers[index]
	if layer.Type != schema.LayerComputed || layer.Formula.Strategy != schema.StrategyUserDefined {
		return nil, fmt.Errorf("mapping: layer %d does not take a user expression", index)
	}
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("mapping: empty expression")
	}

	res, err := ResolveComputed(layer, s.resolutionEnv(index), s.tbl, s.cfg.SampleRows, expr)
	if err != nil {
		return nil, err
	}
	s.userExprs[layer.TargetField] = expr
	s.doc.Layers[index] = &LayerOutcome{
		Index:    index,
		Type:     layer.Type,
		Computed: res,
	}
	if index == s.next {
		s.next++
	}
	if s.next >= len(s.tmpl.Layers) {
		s.state = StateComplete
	}
	return res, nil
}

func (s *Session) runHeader(ctx context.Context, index int, layer schema.Layer) *LayerOutcome {
	suggestions, unresolved := MatchHeaders(layer.Fields, s.tbl.Columns)

	if s.caps.Completer != nil {
		suggestions, unresolved = s.headerFallback(ctx, layer, suggestions, unresolved)
	}

	return &LayerOutcome{
		Index:       index,
		Type:        layer.Type,
		Suggestions: suggestions,
		Unresolved:  unresolved,
	}
}

// headerFallback asks the completer to place required fields the fuzzy pass
// could not, treating source columns as the term set. Accepted picks replace
// the low-confidence best-effort suggestion at the fixed generative
// confidence.
func (s *Session) headerFallback(ctx context.Context, layer schema.Layer, suggestions []Suggestion, unresolved []Unresolved) ([]Suggestion, []Unresolved) {
	var wanted []string
	required := make(map[string]bool, len(layer.Fields))
	for _, f := range layer.Fields {
		if f.Required {
			required[f.Key] = true
		}
	}
	for _, u := range unresolved {
		if required[u.Key] {
			wanted = append(wanted, u.Key)
		}
	}
	if len(wanted) == 0 {
		return suggestions, unresolved
	}

	colByKey := make(map[string]string, len(s.tbl.Columns))
	for _, c := range s.tbl.Columns {
		if _, ok := colByKey[Key(c)]; !ok {
			colByKey[Key(c)] = c
		}
	}

	var picks map[string]string
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		var compErr error
		picks, compErr = s.caps.Completer.MatchTerms(ctx, wanted, s.tbl.Columns)
		return compErr
	})
	if err != nil {
		logger.Warn("header fallback failed", "session", s.ID, "error", err.Error())
		return suggestions, unresolved
	}

	resolved := make(map[string]bool)
	for _, fieldKey := range wanted {
		col, ok := colByKey[Key(picks[fieldKey])]
		if picks[fieldKey] == "" || !ok {
			continue
		}
		suggestions = replaceSuggestion(suggestions, Suggestion{
			SourceKey:  col,
			TargetKey:  fieldKey,
			Confidence: s.cfg.GenerativeConfidence,
			Origin:     OriginGenerative,
		})
		resolved[fieldKey] = true
	}

	kept := unresolved[:0]
	for _, u := range unresolved {
		if !resolved[u.Key] {
			kept = append(kept, u)
		}
	}
	if len(kept) == 0 {
		return suggestions, nil
	}
	return suggestions, kept
}

func replaceSuggestion(suggestions []Suggestion, s Suggestion) []Suggestion {
	for i := range suggestions {
		if suggestions[i].TargetKey == s.TargetKey {
			suggestions[i] = s
			return suggestions
		}
	}
	return append(suggestions, s)
}

func (s *Session) runLookup(ctx context.Context, index int, layer schema.Layer) (*LayerOutcome, error) {
	terms, err := s.dict.Terms(ctx, layer.Dictionary)
	if err != nil {
		return nil, fmt.Errorf("dictionary %q: %w", layer.Dictionary, err)
	}

	values, err := s.tbl.Distinct(layer.SourceField)
	if err != nil {
		// Missing source column is soft: the layer completes with the
		// field reported unresolved.
		return &LayerOutcome{
			Index: index,
			Type:  layer.Type,
			Unresolved: []Unresolved{
				{Key: layer.SourceField, Reason: "source column not present in dataset"},
			},
		}, nil
	}

	suggestions, unresolved := MatchLookup(ctx, values, terms, s.caps.Embedder, s.caps.Completer, s.cfg)
	return &LayerOutcome{
		Index:       index,
		Type:        layer.Type,
		Suggestions: suggestions,
		Unresolved:  unresolved,
	}, nil
}

func (s *Session) runComputed(index int, layer schema.Layer) (*LayerOutcome, error) {
	env := s.resolutionEnv(index)
	res, err := ResolveComputed(layer, env, s.tbl, s.cfg.SampleRows, s.userExprs[layer.TargetField])

	out := &LayerOutcome{Index: index, Type: layer.Type}
	switch {
	case err != nil:
		out.Unresolved = []Unresolved{{Key: layer.TargetField, Reason: err.Error()}}
		if layer.Formula.Strategy == schema.StrategyAlways {
			// Fatal for always; the outcome still records what failed.
			s.doc.Layers[index] = out
			return out, err
		}
		return out, nil
	case res == nil:
		reason := "no candidate resolved"
		if layer.Formula.Strategy == schema.StrategyUserDefined {
			reason = "awaiting user expression"
		}
		out.Unresolved = []Unresolved{{Key: layer.TargetField, Reason: reason}}
		return out, nil
	}

	out.Computed = res
	if res.Method == schema.CandidateDirect && len(res.SourceCols) == 1 {
		out.Suggestions = []Suggestion{{
			SourceKey:  res.SourceCols[0],
			TargetKey:  layer.TargetField,
			Confidence: 1,
			Origin:     OriginExact,
		}}
	}
	return out, nil
}

// resolutionEnv builds the column environment visible to layer upto: every
// dataset column under its own comparison key, plus target fields resolved
// by earlier layers (and overrides) whose accepted source is a real dataset
// column.
func (s *Session) resolutionEnv(upto int) map[string]string {
	env := make(map[string]string, len(s.tbl.Columns))
	for _, c := range s.tbl.Columns {
		env[Key(c)] = c
	}
	for i := 0; i < upto && i < len(s.doc.Layers); i++ {
		layer := s.doc.Layers[i]
		if layer == nil {
			continue
		}
		for _, sug := range layer.Suggestions {
			if s.tbl.HasColumn(sug.SourceKey) {
				env[Key(sug.TargetKey)] = sug.SourceKey
			}
		}
	}
	for _, sug := range s.doc.Overrides {
		if s.tbl.HasColumn(sug.SourceKey) {
			env[Key(sug.TargetKey)] = sug.SourceKey
		}
	}
	return env
}
