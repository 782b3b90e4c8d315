// file: internal/search/suggest.go
// version: 1.0.0
// guid: 8f0d3b56-2c9e-4a71-b5d8-4e6a1c9f0b24

package search

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// MinSuggestPrefix is the shortest prefix (in runes) that returns suggestions.
const MinSuggestPrefix = 2

// DefaultSuggestLimit applies when the caller passes no limit.
const DefaultSuggestLimit = 10

type suggestion struct {
	display string
	folded  string
	refs    int
}

// suggester keeps reference-counted display strings sorted by folded form.
type suggester struct {
	byDisplay map[string]*suggestion
	sorted    []*suggestion
}

func newSuggester() *suggester {
	return &suggester{byDisplay: make(map[string]*suggestion)}
}

func (s *suggester) add(display string) {
	if entry, ok := s.byDisplay[display]; ok {
		entry.refs++
		return
	}
	entry := &suggestion{display: display, folded: fold(display), refs: 1}
	s.byDisplay[display] = entry
	i := sort.Search(len(s.sorted), func(i int) bool { return !less(s.sorted[i], entry) })
	s.sorted = append(s.sorted, nil)
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = entry
}

func (s *suggester) remove(display string) {
	entry, ok := s.byDisplay[display]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	delete(s.byDisplay, display)
	i := sort.Search(len(s.sorted), func(i int) bool { return !less(s.sorted[i], entry) })
	for ; i < len(s.sorted); i++ {
		if s.sorted[i] == entry {
			s.sorted = append(s.sorted[:i], s.sorted[i+1:]...)
			return
		}
	}
}

func less(a, b *suggestion) bool {
	if a.folded != b.folded {
		return a.folded < b.folded
	}
	return a.display < b.display
}

func (s *suggester) match(prefix string, limit int) []string {
	out := []string{}
	fp := fold(prefix)
	if utf8.RuneCountInString(fp) < MinSuggestPrefix {
		return out
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}

	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i].folded >= fp })
	var found []*suggestion
	for ; i < len(s.sorted) && strings.HasPrefix(s.sorted[i].folded, fp); i++ {
		found = append(found, s.sorted[i])
	}
	sort.Slice(found, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(found[i].display), utf8.RuneCountInString(found[j].display)
		if li != lj {
			return li < lj
		}
		return found[i].display < found[j].display
	})
	for _, entry := range found {
		if len(out) == limit {
			break
		}
		out = append(out, entry.display)
	}
	return out
}
