// file: internal/search/index_test.go
// version: 1.0.0
// guid: 6d8f0a2c-4e1b-4c39-b7a5-2f9e1d3c5b70

package search

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/ebook-organizer/internal/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rec(id, title, author, desc string, tags ...string) *models.EbookRecord {
	return &models.EbookRecord{
		Provider:        "p",
		RemoteID:        id,
		Title:           title,
		Author:          author,
		Description:     desc,
		Tags:            tags,
		Category:        "Fiction",
		Format:          "epub",
		LocalModifiedAt: t0,
		SyncState:       models.SyncStateSynced,
	}
}

func refs(resp *Response) []string {
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.Ref.RemoteID)
	}
	return out
}

// TestSearchFieldWeights tests that title outranks author, description and tags
func TestSearchFieldWeights(t *testing.T) {
	// Arrange
	ix := NewIndex()
	ix.Upsert(rec("tag", "Alpha", "Beta", "Gamma", "dragon"))
	ix.Upsert(rec("desc", "Alpha", "Beta", "a dragon appears"))
	ix.Upsert(rec("author", "Alpha", "Dragon Smith", "Gamma"))
	ix.Upsert(rec("title", "Dragon", "Beta", "Gamma"))

	// Act
	resp := ix.Search(Query{Text: "dragon"})

	// Assert
	assert.Equal(t, 4, resp.Total)
	assert.Equal(t, []string{"title", "author", "desc", "tag"}, refs(resp))
	assert.Equal(t, TitleWeight, resp.Results[0].Score)
	assert.Equal(t, AuthorWeight, resp.Results[1].Score)
	assert.Equal(t, DescriptionWeight, resp.Results[2].Score)
	assert.Equal(t, TagWeight, resp.Results[3].Score)
}

// TestSearchTermFrequencySums tests that repeated and multiple terms add up
func TestSearchTermFrequencySums(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(rec("a", "Dune", "Frank Herbert", "dune dune desert"))
	resp := ix.Search(Query{Text: "dune desert"})
	require.Len(t, resp.Results, 1)
	// title 4*1 + description 2*2 for "dune", description 2*1 for "desert"
	assert.Equal(t, 10.0, resp.Results[0].Score)
}

// TestSearchTieBreaks tests ordering by local_modified_at then ref on equal scores
func TestSearchTieBreaks(t *testing.T) {
	ix := NewIndex()
	older := rec("b", "Foundation", "Asimov", "")
	newer := rec("c", "Foundation", "Asimov", "")
	newer.LocalModifiedAt = t0.Add(time.Hour)
	same := rec("a", "Foundation", "Asimov", "")
	ix.Upsert(older)
	ix.Upsert(newer)
	ix.Upsert(same)

	resp := ix.Search(Query{Text: "foundation"})
	assert.Equal(t, []string{"c", "a", "b"}, refs(resp))
}

// TestSearchRankingDeterminism tests identical state and query yield identical output
func TestSearchRankingDeterminism(t *testing.T) {
	build := func(order []int) *Index {
		ix := NewIndex()
		for _, i := range order {
			ix.Upsert(rec(fmt.Sprintf("%02d", i), "The Space Book", "Author", fmt.Sprintf("space number %d", i%3)))
		}
		return ix
	}
	a := build([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	b := build([]int{10, 9, 8, 7, 6, 5, 4, 3, 2, 1})

	first := a.Search(Query{Text: "space", PageSize: 50})
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.Search(Query{Text: "space", PageSize: 50}))
	}
	assert.Equal(t, refs(first), refs(b.Search(Query{Text: "space", PageSize: 50})))
}

// TestSearchStemmingAndStopWords tests bleve's english analysis
func TestSearchStemmingAndStopWords(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(rec("a", "Running with the Wolves", "X", ""))

	assert.Equal(t, 1, ix.Search(Query{Text: "runs"}).Total)
	assert.Equal(t, 1, ix.Search(Query{Text: "WOLVES"}).Total)
	assert.Equal(t, 0, ix.Search(Query{Text: "the"}).Total)
	assert.Equal(t, 0, ix.Search(Query{Text: ""}).Total)
}

// TestSearchFiltersAndPaging tests category/format filters and pagination
func TestSearchFiltersAndPaging(t *testing.T) {
	ix := NewIndex()
	for i := 0; i < 5; i++ {
		r := rec(fmt.Sprint(i), "Magic", "A", "")
		if i%2 == 0 {
			r.Format = "pdf"
			r.Category = "Reference"
		}
		ix.Upsert(r)
	}

	resp := ix.Search(Query{Text: "magic", Format: "PDF"})
	assert.Equal(t, 3, resp.Total)

	resp = ix.Search(Query{Text: "magic", Category: "fiction"})
	assert.Equal(t, 2, resp.Total)

	resp = ix.Search(Query{Text: "magic", Page: 2, PageSize: 2})
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, []string{"2", "3"}, refs(resp))

	resp = ix.Search(Query{Text: "magic", Page: 9, PageSize: 2})
	assert.Empty(t, resp.Results)

	resp = ix.Search(Query{Text: "magic", PageSize: 1000})
	assert.Equal(t, MaxPageSize, resp.PageSize)
}

// TestSearchSnippet tests highlighted context windows
func TestSearchSnippet(t *testing.T) {
	ix := NewIndex()
	desc := "one two three four five six seven eight nine ten eleven twelve dragons fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo"
	ix.Upsert(rec("a", "Tale", "B", desc))
	ix.Upsert(rec("b", "Dragon Tales", "B", "nothing relevant here"))

	resp := ix.Search(Query{Text: "dragon"})
	require.Len(t, resp.Results, 2)

	byID := map[string]string{}
	for _, r := range resp.Results {
		byID[r.Ref.RemoteID] = r.Snippet
	}
	assert.Equal(t, "... five six seven eight nine ten eleven twelve <mark>dragons</mark> fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone ...", byID["a"])
	assert.Equal(t, "<mark>Dragon</mark> Tales", byID["b"])
}

// TestUpsertIsIdempotentAndRemoves tests replay and tombstones
func TestUpsertIsIdempotentAndRemoves(t *testing.T) {
	ix := NewIndex()
	r := rec("a", "Hyperion", "Dan Simmons", "")
	ix.Upsert(r)
	ix.Upsert(r)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, []string{"Hyperion"}, ix.Suggest("hy", 10))

	r.Title = "Endymion"
	ix.Upsert(r)
	assert.Equal(t, 0, ix.Search(Query{Text: "hyperion"}).Total)
	assert.Empty(t, ix.Suggest("hy", 10))

	r.Deleted = true
	ix.Upsert(r)
	assert.False(t, ix.Contains(r.Ref()))
	assert.Equal(t, 0, ix.Search(Query{Text: "endymion"}).Total)

	ix.Remove(models.RecordRef{Provider: "p", RemoteID: "never"})
}

// TestSearchMarksConflicts tests conflicted records stay searchable and flagged
func TestSearchMarksConflicts(t *testing.T) {
	ix := NewIndex()
	r := rec("a", "Ilium", "Simmons", "")
	r.SyncState = models.SyncStateConflict
	ix.Upsert(r)
	resp := ix.Search(Query{Text: "ilium"})
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Conflict)
}

// TestSuggest tests prefix ordering, folding and limits
func TestSuggest(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(rec("1", "Émile", "Jean-Jacques Rousseau", "", "emigration"))
	ix.Upsert(rec("2", "Emma", "Jane Austen", "", "classics"))
	ix.Upsert(rec("3", "Emerald City", "Em Author", ""))
	ix.Upsert(rec("4", models.PlaceholderTitle, models.PlaceholderAuthor, ""))

	assert.Equal(t, []string{"Emma", "Émile", "Em Author", "emigration", "Emerald City"}, ix.Suggest("em", 0))
	assert.Equal(t, []string{"Emma", "Émile"}, ix.Suggest("EM", 2))
	assert.Equal(t, []string{"Émile"}, ix.Suggest("émi", 5)[:1])
	assert.Empty(t, ix.Suggest("e", 10))
	assert.Empty(t, ix.Suggest("unknown", 10))
	assert.Empty(t, ix.Suggest("j", 10), "single rune returns nothing")
	assert.Equal(t, []string{"Jane Austen"}, ix.Suggest("ja", 10))
}

// TestReset tests full rebuild
func TestReset(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(rec("old", "Old", "X", ""))
	gone := *rec("gone", "Gone", "X", "")
	gone.Deleted = true
	ix.Reset([]models.EbookRecord{*rec("new", "New", "X", ""), gone})
	assert.Equal(t, 1, ix.Len())
	assert.True(t, ix.Contains(models.RecordRef{Provider: "p", RemoteID: "new"}))
	assert.Empty(t, ix.Suggest("ol", 10))
}
