// file: internal/search/index.go
// version: 1.0.0
// guid: 1c5f8a27-9e3b-4d60-a4c2-6b8d0e2f4a93

// Package search keeps an in-memory inverted index of the library and
// answers ranked queries and autocomplete prefixes.
package search

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/models"
)

// Field weights for the term-frequency score.
const (
	TitleWeight       = 4.0
	AuthorWeight      = 3.0
	DescriptionWeight = 2.0
	TagWeight         = 1.0
)

// Paging defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type field int

const (
	fieldTitle field = iota
	fieldAuthor
	fieldDescription
	fieldTags
	numFields
)

var fieldWeights = [numFields]float64{TitleWeight, AuthorWeight, DescriptionWeight, TagWeight}

type termFreq [numFields]int

type document struct {
	ref             models.RecordRef
	title           string
	author          string
	description     string
	category        string
	format          string
	localModifiedAt time.Time
	conflict        bool
	tf              map[string]*termFreq
	suggestions     []string
}

// Query is a ranked search request.
type Query struct {
	Text     string
	Category string
	Format   string
	Page     int
	PageSize int
}

// Result is one ranked hit.
type Result struct {
	Ref      models.RecordRef `json:"record_ref"`
	Score    float64          `json:"score"`
	Snippet  string           `json:"snippet"`
	Title    string           `json:"title"`
	Author   string           `json:"author"`
	Conflict bool             `json:"conflict,omitempty"`
}

// Response is one page of ranked hits.
type Response struct {
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Results  []Result `json:"results"`
}

// Index is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	analyzer *analyzer
	docs     map[models.RecordRef]*document
	postings map[string]map[models.RecordRef]struct{}
	suggest  *suggester
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		analyzer: newAnalyzer(),
		docs:     make(map[models.RecordRef]*document),
		postings: make(map[string]map[models.RecordRef]struct{}),
		suggest:  newSuggester(),
	}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Contains reports whether ref is indexed.
func (ix *Index) Contains(ref models.RecordRef) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[ref]
	return ok
}

func (ix *Index) buildDocument(rec *models.EbookRecord) *document {
	doc := &document{
		ref:             rec.Ref(),
		title:           rec.Title,
		author:          rec.Author,
		description:     rec.Description,
		category:        rec.Category,
		format:          rec.Format,
		localModifiedAt: rec.LocalModifiedAt,
		conflict:        rec.SyncState == models.SyncStateConflict,
		tf:              make(map[string]*termFreq),
	}
	add := func(f field, text string) {
		for _, t := range ix.analyzer.terms(text) {
			freq, ok := doc.tf[t.text]
			if !ok {
				freq = &termFreq{}
				doc.tf[t.text] = freq
			}
			freq[f]++
		}
	}
	add(fieldTitle, rec.Title)
	add(fieldAuthor, rec.Author)
	add(fieldDescription, rec.Description)
	for _, tag := range rec.Tags {
		add(fieldTags, tag)
	}

	for _, s := range append([]string{rec.Title, rec.Author}, rec.Tags...) {
		if s = strings.TrimSpace(s); s != "" && s != models.PlaceholderTitle && s != models.PlaceholderAuthor {
			doc.suggestions = append(doc.suggestions, s)
		}
	}
	return doc
}

// Upsert indexes the record, replacing any previous version. Tombstoned
// records are removed instead. Applying the same record twice is harmless.
func (ix *Index) Upsert(rec *models.EbookRecord) {
	if rec.Deleted {
		ix.Remove(rec.Ref())
		return
	}
	doc := ix.buildDocument(rec)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(doc.ref)
	ix.docs[doc.ref] = doc
	for t := range doc.tf {
		refs, ok := ix.postings[t]
		if !ok {
			refs = make(map[models.RecordRef]struct{})
			ix.postings[t] = refs
		}
		refs[doc.ref] = struct{}{}
	}
	for _, s := range doc.suggestions {
		ix.suggest.add(s)
	}
}

// Remove drops ref from the index. Unknown refs are ignored.
func (ix *Index) Remove(ref models.RecordRef) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(ref)
}

func (ix *Index) removeLocked(ref models.RecordRef) {
	doc, ok := ix.docs[ref]
	if !ok {
		return
	}
	for t := range doc.tf {
		if refs, ok := ix.postings[t]; ok {
			delete(refs, ref)
			if len(refs) == 0 {
				delete(ix.postings, t)
			}
		}
	}
	for _, s := range doc.suggestions {
		ix.suggest.remove(s)
	}
	delete(ix.docs, ref)
}

// Reset replaces the whole index with records.
func (ix *Index) Reset(records []models.EbookRecord) {
	docs := make([]*document, 0, len(records))
	for i := range records {
		if !records[i].Deleted {
			docs = append(docs, ix.buildDocument(&records[i]))
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = make(map[models.RecordRef]*document, len(docs))
	ix.postings = make(map[string]map[models.RecordRef]struct{})
	ix.suggest = newSuggester()
	for _, doc := range docs {
		ix.docs[doc.ref] = doc
		for t := range doc.tf {
			refs, ok := ix.postings[t]
			if !ok {
				refs = make(map[models.RecordRef]struct{})
				ix.postings[t] = refs
			}
			refs[doc.ref] = struct{}{}
		}
		for _, s := range doc.suggestions {
			ix.suggest.add(s)
		}
	}
}

type hit struct {
	doc   *document
	score float64
}

// Search ranks documents by the weighted term-frequency sum of the query
// terms. Ties go to the most recently modified record, then to the lower ref.
func (ix *Index) Search(q Query) *Response {
	page, pageSize := normalizePaging(q.Page, q.PageSize)
	resp := &Response{Page: page, PageSize: pageSize, Results: []Result{}}

	qterms := make(map[string]struct{})
	for _, t := range ix.analyzer.terms(q.Text) {
		qterms[t.text] = struct{}{}
	}
	if len(qterms) == 0 {
		return resp
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	scores := make(map[models.RecordRef]float64)
	for t := range qterms {
		for ref := range ix.postings[t] {
			freq := ix.docs[ref].tf[t]
			for f := field(0); f < numFields; f++ {
				scores[ref] += fieldWeights[f] * float64(freq[f])
			}
		}
	}

	hits := make([]hit, 0, len(scores))
	for ref, score := range scores {
		doc := ix.docs[ref]
		if q.Category != "" && !strings.EqualFold(doc.category, q.Category) {
			continue
		}
		if q.Format != "" && !strings.EqualFold(doc.format, q.Format) {
			continue
		}
		hits = append(hits, hit{doc: doc, score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.doc.localModifiedAt.Equal(b.doc.localModifiedAt) {
			return a.doc.localModifiedAt.After(b.doc.localModifiedAt)
		}
		return a.doc.ref.Less(b.doc.ref)
	})

	resp.Total = len(hits)
	start := (page - 1) * pageSize
	if start >= len(hits) {
		return resp
	}
	end := start + pageSize
	if end > len(hits) {
		end = len(hits)
	}
	for _, h := range hits[start:end] {
		resp.Results = append(resp.Results, Result{
			Ref:      h.doc.ref,
			Score:    h.score,
			Snippet:  ix.snippet(h.doc, qterms),
			Title:    h.doc.title,
			Author:   h.doc.author,
			Conflict: h.doc.conflict,
		})
	}
	return resp
}

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Suggest returns up to limit titles, authors or tags starting with prefix,
// shortest first, then alphabetically. Prefixes under two characters match nothing.
func (ix *Index) Suggest(prefix string, limit int) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.suggest.match(prefix, limit)
}
