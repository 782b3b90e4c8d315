// file: internal/search/snippet.go
// version: 1.0.0
// guid: 3e7a1c95-6b2d-4f08-9c4e-8d0b2a6f1c37

package search

import "strings"

const (
	snippetRadius = 8
	markOpen      = "<mark>"
	markClose     = "</mark>"
)

// snippet highlights the first query match in the description, falling
// back to the title, and keeps snippetRadius words either side of it.
func (ix *Index) snippet(doc *document, qterms map[string]struct{}) string {
	for _, text := range []string{doc.description, doc.title} {
		if s, ok := ix.highlight(text, qterms); ok {
			return s
		}
	}
	return leadingWords(doc.description, 2*snippetRadius)
}

func (ix *Index) highlight(text string, qterms map[string]struct{}) (string, bool) {
	var matches []term
	for _, t := range ix.analyzer.terms(text) {
		if _, ok := qterms[t.text]; ok {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return "", false
	}

	spans := words(text)
	center := 0
	for i, w := range spans {
		if w.end > matches[0].start {
			center = i
			break
		}
	}
	lo, hi := center-snippetRadius, center+snippetRadius
	if lo < 0 {
		lo = 0
	}
	if hi > len(spans)-1 {
		hi = len(spans) - 1
	}

	var b strings.Builder
	if lo > 0 {
		b.WriteString("... ")
	}
	for i := lo; i <= hi; i++ {
		w := spans[i]
		if i > lo {
			b.WriteString(text[spans[i-1].end:w.start])
		}
		if overlaps(w, matches) {
			b.WriteString(markOpen)
			b.WriteString(text[w.start:w.end])
			b.WriteString(markClose)
		} else {
			b.WriteString(text[w.start:w.end])
		}
	}
	if hi < len(spans)-1 {
		b.WriteString(" ...")
	}
	return b.String(), true
}

func overlaps(w wordSpan, matches []term) bool {
	for _, m := range matches {
		if m.start < w.end && m.end > w.start {
			return true
		}
	}
	return false
}

func leadingWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) <= n {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:n], " ") + " ..."
}
