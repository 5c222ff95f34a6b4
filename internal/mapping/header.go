package mapping

import (
	"github.com/ignite/template-mapper/internal/schema"
)

// HeaderFuzzyFloor is the minimum fuzzy confidence below which a required
// field is flagged unresolved. The best-effort suggestion is still emitted;
// flagging is for the caller to surface, not a layer failure.
const HeaderFuzzyFloor = 0.4

// MatchHeaders proposes one suggestion per target field against the source
// column names. Exact matches on the comparison key score 1.0; otherwise the
// best fuzzy candidate wins with confidence equal to its similarity. Ties
// break by higher confidence, then shorter column name, then lexical order,
// so output is deterministic.
func MatchHeaders(fields []schema.FieldSpec, columns []string) ([]Suggestion, []Unresolved) {
	var suggestions []Suggestion
	var unresolved []Unresolved

	for _, f := range fields {
		best, score, exact := bestColumn(f.Key, columns)
		if best == "" {
			unresolved = append(unresolved, Unresolved{Key: f.Key, Reason: "no source columns to match against"})
			continue
		}

		origin := OriginFuzzy
		if exact {
			origin = OriginExact
		}
		suggestions = append(suggestions, Suggestion{
			SourceKey:  best,
			TargetKey:  f.Key,
			Confidence: score,
			Origin:     origin,
		})

		if f.Required && score < HeaderFuzzyFloor {
			unresolved = append(unresolved, Unresolved{Key: f.Key, Reason: "required field has no confident match"})
		}
	}
	return suggestions, unresolved
}

func bestColumn(fieldKey string, columns []string) (best string, score float64, exact bool) {
	key := Key(fieldKey)
	for _, col := range columns {
		colExact := Key(col) == key
		var s float64
		if colExact {
			s = 1
		} else {
			s = Similarity(fieldKey, col)
		}
		if better(col, s, colExact, best, score, exact) {
			best, score, exact = col, s, colExact
		}
	}
	return best, score, exact
}

func better(col string, score float64, exact bool, curCol string, curScore float64, curExact bool) bool {
	if curCol == "" {
		return true
	}
	if exact != curExact {
		return exact
	}
	if score != curScore {
		return score > curScore
	}
	if len(col) != len(curCol) {
		return len(col) < len(curCol)
	}
	return col < curCol
}
