// file: internal/metadata/taxonomy_test.go
// version: 1.0.0
// guid: 0c5e8a27-3d1f-4b69-9e42-7a6c1f3d8b50

package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyGenre(t *testing.T) {
	tests := []struct {
		genre string
		want  Classification
		ok    bool
	}{
		{"Fantasy", cls("Fiction", "Fantasy"), true},
		{"Epic Fantasy Adventures", cls("Fiction", "Fantasy"), true},
		{"SF", cls("Fiction", "Science Fiction"), true},
		{"Literary Fiction", cls("Fiction", "Literary"), true},
		{"Non-Fiction / History", cls("Non-Fiction", "History"), true},
		{"Juvenile Nonfiction", cls("Children", "Educational"), true},
		{"General Nonfiction", cls("Non-Fiction", OtherSubGenre), true},
		{"Pulp fiction stuff", cls("Fiction", "Literary"), true},
		{"http://example.com/genre", Classification{}, false},
		{"12345", Classification{}, false},
		{"ab", Classification{}, false},
		{"United States -- History -- Civil War", Classification{}, false},
		{"this is clearly a description and not a genre because it is very long", Classification{}, false},
		{"", Classification{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.genre, func(t *testing.T) {
			got, ok := ClassifyGenre(tt.genre)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyGenresSplitsLists(t *testing.T) {
	got, ok := ClassifyGenres("", "12; Cyberpunk")
	assert.True(t, ok)
	assert.Equal(t, cls("Fiction", "Science Fiction"), got)

	_, ok = ClassifyGenres("zz; yy")
	assert.False(t, ok)
}

func TestClassifyFolder(t *testing.T) {
	c, ok := ClassifyFolder("Books/Sci-Fi/Dune.epub")
	assert.True(t, ok)
	assert.Equal(t, cls("Fiction", "Science Fiction"), c)

	c, ok = ClassifyFolder(`Library\Manga Collection\vol1.cbz`)
	assert.True(t, ok)
	assert.Equal(t, cls("Comics & Graphic Novels", "Manga"), c)

	_, ok = ClassifyFolder("Dune.epub")
	assert.False(t, ok)
}

func TestClassifyTitleAndText(t *testing.T) {
	c, ok := ClassifyTitle("A Brief Biography of Einstein")
	assert.True(t, ok)
	assert.Equal(t, cls("Non-Fiction", "Biography & Memoir"), c)

	c, ok = ClassifyText("A sweeping space opera across a dying galaxy.")
	assert.True(t, ok)
	assert.Equal(t, cls("Fiction", "Science Fiction"), c)

	_, ok = ClassifyText("He loved art.")
	assert.False(t, ok, "short aliases never decide from prose")
}

func TestClassifySubjects(t *testing.T) {
	tests := []struct {
		name     string
		subjects []string
		want     Classification
	}{
		{"bisac fiction", []string{"Fiction / Science Fiction / General"}, cls("Fiction", "Science Fiction")},
		{"biography wins", []string{"Fantasy", "Biography"}, cls("Non-Fiction", "Biography & Memoir")},
		{"genre words", []string{"Fantasy fiction", "Wizards"}, cls("Fiction", "Fantasy")},
		{"bisac non-fiction", []string{"Cooking"}, cls("Non-Fiction", "Health & Wellness")},
		{"alias table", []string{"Stoicism"}, cls("Non-Fiction", "Philosophy & Religion")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifySubjects(tt.subjects)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	_, ok := ClassifySubjects(nil)
	assert.False(t, ok)
}
