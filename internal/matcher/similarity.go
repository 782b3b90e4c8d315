// file: internal/matcher/similarity.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7890-abcd-ef1234567890

package matcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// containedScore is the floor given when every word of one side appears in
// the other ("hobbit" against "The Hobbit, or There and Back Again").
const containedScore = 0.85

// Normalize lowercases s, drops punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity scores how alike two titles or names are, from 0 to 1.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	score := 1 - float64(fuzzy.LevenshteinDistance(na, nb))/float64(longest)
	if wordsContained(na, nb) || wordsContained(nb, na) {
		score = max(score, containedScore)
	}
	return max(score, 0)
}

func wordsContained(needle, haystack string) bool {
	have := make(map[string]bool)
	for _, w := range strings.Fields(haystack) {
		have[w] = true
	}
	for _, w := range strings.Fields(needle) {
		if !have[w] {
			return false
		}
	}
	return true
}

// Ranked is a candidate index and its similarity to the query.
type Ranked struct {
	Index int
	Score float64
}

// Rank scores candidates against query and returns those at or above
// minScore, best first. Equal scores keep their input order.
func Rank(query string, candidates []string, minScore float64) []Ranked {
	var out []Ranked
	for i, c := range candidates {
		if s := Similarity(query, c); s >= minScore {
			out = append(out, Ranked{Index: i, Score: s})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
