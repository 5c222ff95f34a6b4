// Package ai defines the injected AI capability surface the mapping engine
// depends on (batched embeddings plus a multiple-choice completion fallback)
// and its OpenAI and AWS Bedrock implementations. The engine treats both as
// black boxes that can fail; callers wrap batch calls in bounded retry and
// report exhausted values as unresolved rather than guessing.
package ai

import (
	"context"
	"math"
)

// Embedder produces one vector per input text. Implementations must accept
// batches; callers bound batch sizes to respect provider limits.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Completer answers a multiple-choice matching prompt: for each value, the
// closest of the authorized terms, or empty string for no match. One call
// covers a whole remainder batch.
type Completer interface {
	MatchTerms(ctx context.Context, values, terms []string) (map[string]string, error)
}

// CapabilityError wraps a provider failure (timeout, rate limit, malformed
// response). Values affected by an exhausted capability call surface as
// unresolved; the layer still completes for everything else.
type CapabilityError struct {
	Provider string
	Op       string
	Err      error
}

func (e *CapabilityError) Error() string {
	return "ai: " + e.Provider + " " + e.Op + ": " + e.Err.Error()
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Cosine returns the cosine similarity of two vectors, 0 for mismatched or
// zero-magnitude input.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
