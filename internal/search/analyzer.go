// file: internal/search/analyzer.go
// version: 1.0.0
// guid: 7b2e9c40-5d1a-4f36-8e7b-3a9c0d2f6e81

package search

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AnalyzerName is the bleve analyzer used for indexing and querying.
const AnalyzerName = "en"

type textAnalyzer interface {
	Analyze([]byte) analysis.TokenStream
}

// term is one analyzed token with its byte span in the source text.
type term struct {
	text       string
	start, end int
}

// analyzer turns text into stemmed, stop-word-free terms.
type analyzer struct {
	inner textAnalyzer
}

func newAnalyzer() *analyzer {
	m := bleve.NewIndexMapping()
	a := m.AnalyzerNamed(AnalyzerName)
	if a == nil {
		panic("search: bleve analyzer " + AnalyzerName + " is not registered")
	}
	return &analyzer{inner: a}
}

func (a *analyzer) terms(text string) []term {
	if text == "" {
		return nil
	}
	stream := a.inner.Analyze([]byte(text))
	out := make([]term, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		out = append(out, term{text: string(tok.Term), start: tok.Start, end: tok.End})
	}
	return out
}

// fold lowercases and strips diacritics for prefix matching.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// wordSpan is the byte range of one whitespace/punctuation-delimited word.
type wordSpan struct {
	start, end int
}

// words splits text into letter/digit runs with their byte offsets.
func words(text string) []wordSpan {
	var spans []wordSpan
	start := -1
	for i, r := range text {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		switch {
		case inWord && start < 0:
			start = i
		case !inWord && start >= 0:
			spans = append(spans, wordSpan{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, wordSpan{start, len(text)})
	}
	return spans
}
