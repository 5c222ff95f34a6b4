package mapping

import (
	"context"
	"fmt"

	"github.com/ignite/template-mapper/internal/ai"
	"github.com/ignite/template-mapper/internal/pkg/retry"
)

// MatchLookup maps distinct source values onto a dictionary of authorized
// terms. Values whose comparison key equals a term's key match exactly.
// The rest are embedded in one batch together with the terms and each value
// takes the term with the highest cosine similarity; results below the
// threshold fall into a remainder set handed to the generative completer,
// which either picks a term (fixed confidence, origin generative) or
// declares no match. Unresolved values are reported, never guessed.
//
// Provider calls are retried with bounded backoff; on exhaustion the
// affected values are reported unresolved and the rest of the layer still
// completes.
func MatchLookup(ctx context.Context, values, terms []string, embedder ai.Embedder, completer ai.Completer, cfg Config) ([]Suggestion, []Unresolved) {
	termByKey := make(map[string]string, len(terms))
	for _, t := range terms {
		if _, ok := termByKey[Key(t)]; !ok {
			termByKey[Key(t)] = t
		}
	}

	var suggestions []Suggestion
	var unresolved []Unresolved
	var pending []string
	for _, v := range values {
		if term, ok := termByKey[Key(v)]; ok {
			suggestions = append(suggestions, Suggestion{SourceKey: v, TargetKey: term, Confidence: 1, Origin: OriginExact})
			continue
		}
		pending = append(pending, v)
	}
	if len(pending) == 0 || len(terms) == 0 {
		for _, v := range pending {
			unresolved = append(unresolved, Unresolved{Key: v, Reason: "dictionary is empty"})
		}
		return suggestions, unresolved
	}

	texts := make([]string, 0, len(pending)+len(terms))
	for _, v := range pending {
		texts = append(texts, Normalize(v))
	}
	for _, t := range terms {
		texts = append(texts, Normalize(t))
	}

	var vecs [][]float64
	err := retry.Do(ctx, cfg.Retry, func(ctx context.Context) error {
		var embErr error
		vecs, embErr = embedder.Embed(ctx, texts)
		return embErr
	})
	if err != nil {
		for _, v := range pending {
			unresolved = append(unresolved, Unresolved{Key: v, Reason: "embedding failed: " + err.Error()})
		}
		return suggestions, unresolved
	}

	valueVecs := vecs[:len(pending)]
	termVecs := vecs[len(pending):]

	var remainder []string
	for i, v := range pending {
		bestTerm, bestSim := "", -1.0
		for j, t := range terms {
			if sim := ai.Cosine(valueVecs[i], termVecs[j]); sim > bestSim {
				bestTerm, bestSim = t, sim
			}
		}
		if bestSim >= cfg.LookupThreshold {
			suggestions = append(suggestions, Suggestion{SourceKey: v, TargetKey: bestTerm, Confidence: bestSim, Origin: OriginEmbedding})
			continue
		}
		remainder = append(remainder, v)
	}

	if len(remainder) == 0 {
		return suggestions, unresolved
	}
	if completer == nil {
		for _, v := range remainder {
			unresolved = append(unresolved, Unresolved{Key: v, Reason: fmt.Sprintf("best similarity below threshold %.2f", cfg.LookupThreshold)})
		}
		return suggestions, unresolved
	}

	var picks map[string]string
	err = retry.Do(ctx, cfg.Retry, func(ctx context.Context) error {
		var compErr error
		picks, compErr = completer.MatchTerms(ctx, remainder, terms)
		return compErr
	})
	if err != nil {
		for _, v := range remainder {
			unresolved = append(unresolved, Unresolved{Key: v, Reason: "generative fallback failed: " + err.Error()})
		}
		return suggestions, unresolved
	}

	for _, v := range remainder {
		pick := picks[v]
		term, ok := termByKey[Key(pick)]
		if pick == "" || !ok {
			unresolved = append(unresolved, Unresolved{Key: v, Reason: "no dictionary term matched"})
			continue
		}
		suggestions = append(suggestions, Suggestion{SourceKey: v, TargetKey: term, Confidence: cfg.GenerativeConfidence, Origin: OriginGenerative})
	}
	return suggestions, unresolved
}
