package mapping

import (
	"strings"
	"unicode"
)

// Normalize lowercases, folds separator punctuation to spaces, and collapses
// whitespace. Every layer compares through the same normalization so that
// confidence scores are comparable across layer types.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Comparison-only stop tokens. Dropped when matching, never when displaying,
// so "Lane ID" and "Lane #" both compare as "lane".
var stopTokens = map[string]bool{
	"id": true,
	"#":  true,
}

// Key is the comparison form of a string: Normalize plus stop-token removal.
// If removal would leave nothing, the normalized form is kept as-is.
func Key(s string) string {
	fields := strings.Fields(Normalize(s))
	kept := fields[:0]
	for _, f := range fields {
		if !stopTokens[f] {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return Normalize(s)
	}
	return strings.Join(kept, " ")
}

// Tokens splits a string into its comparison tokens.
func Tokens(s string) []string {
	return strings.Fields(Key(s))
}

// Common header abbreviations folded to a canonical token before comparison.
var tokenAliases = map[string]string{
	"zipcode":  "zip",
	"postcode": "zip",
	"postal":   "zip",
	"cd":       "code",
	"num":      "number",
	"no":       "number",
	"qty":      "quantity",
	"amt":      "amount",
	"acct":     "account",
	"desc":     "description",
	"pct":      "percent",
	"addr":     "address",
}

func canonToken(t string) string {
	if c, ok := tokenAliases[t]; ok {
		return c
	}
	return t
}

// tokensEqual reports whether two tokens should count as the same word:
// equal, equal after alias folding, or one a prefix of the other with at
// least three shared characters ("dest" / "destination").
func tokensEqual(a, b string) bool {
	if a == b {
		return true
	}
	ca, cb := canonToken(a), canonToken(b)
	if ca == cb {
		return true
	}
	short, long := ca, cb
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= 3 && strings.HasPrefix(long, short)
}

// tokenOverlap scores how many tokens of a and b pair up, as a Dice
// coefficient in [0,1]. Each token matches at most one counterpart.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	used := make([]bool, len(b))
	matches := 0
	for _, ta := range a {
		for j, tb := range b {
			if !used[j] && tokensEqual(ta, tb) {
				used[j] = true
				matches++
				break
			}
		}
	}
	return 2 * float64(matches) / float64(len(a)+len(b))
}

// levenshtein is the classic edit distance over runes.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func levRatio(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// Similarity blends token overlap with edit-distance closeness on the
// comparison keys. Monotonic in token overlap, penalized by edit distance.
func Similarity(a, b string) float64 {
	ka, kb := Key(a), Key(b)
	if ka == kb {
		return 1
	}
	return 0.5*tokenOverlap(Tokens(a), Tokens(b)) + 0.5*levRatio(ka, kb)
}
