// file: internal/matcher/matcher_test.go
// version: 2.0.0
// guid: 8c9d0e1f-2a3b-4c5d-6e7f-8a9b0c1d2e3f

package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name string
		path string
		want FilenameHints
	}{
		{
			name: "author dash title",
			path: "/books/Frank Herbert - Dune.epub",
			want: FilenameHints{Title: "Dune", Author: "Frank Herbert"},
		},
		{
			name: "long title first falls through to title dash author",
			path: "The Left Hand of Darkness - Ursula K Le Guin.pdf",
			want: FilenameHints{Title: "The Left Hand of Darkness", Author: "Ursula K Le Guin"},
		},
		{
			name: "parenthesized author",
			path: `C:\Books\Dune (Frank Herbert).mobi`,
			want: FilenameHints{Title: "Dune", Author: "Frank Herbert"},
		},
		{
			name: "bracketed author",
			path: "Emma [Jane Austen].epub",
			want: FilenameHints{Title: "Emma", Author: "Jane Austen"},
		},
		{
			name: "download junk removed",
			path: "Isaac_Asimov - Foundation (PDFDrive).pdf",
			want: FilenameHints{Title: "Foundation", Author: "Isaac Asimov"},
		},
		{
			name: "no layout gives cleaned title",
			path: "Neuromancer 1984 epub.epub",
			want: FilenameHints{Title: "Neuromancer"},
		},
		{
			name: "empty",
			path: "",
			want: FilenameHints{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFilename(tt.path))
		})
	}
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "The Hobbit", CleanTitle("The_Hobbit (1937) [illustrated].epub"))
	assert.Equal(t, "", CleanTitle("ab.pdf"))
	assert.Equal(t, "Dune", Stem("dir/sub/Dune.epub"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("The Hobbit", "the hobbit!"))
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.GreaterOrEqual(t, Similarity("hobbit", "The Hobbit, or There and Back Again"), containedScore)
	assert.Greater(t, Similarity("Tolkien", "Tolkein"), 0.7)
	assert.Less(t, Similarity("Dune", "Pride and Prejudice"), 0.5)
}

func TestRank(t *testing.T) {
	candidates := []string{"Pride and Prejudice", "Dune Messiah", "Dune"}
	got := Rank("dune", candidates, 0.5)
	if assert.Len(t, got, 2) {
		assert.Equal(t, 2, got[0].Index)
		assert.Equal(t, 1.0, got[0].Score)
		assert.Equal(t, 1, got[1].Index)
	}
}
