// file: internal/organizer/organizer_test.go
// version: 2.0.0
// guid: 8b9c0d1e-2f3a-4b5c-6d7e-8f9a0b1c2d3e

package organizer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

var seededAt = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func ref(id string) models.RecordRef {
	return models.RecordRef{Provider: "gdrive", RemoteID: id}
}

func book(id, path, title, author, category, subGenre string) *models.EbookRecord {
	return &models.EbookRecord{
		Provider:         "gdrive",
		RemoteID:         id,
		RemotePath:       path,
		Title:            title,
		Author:           author,
		Category:         category,
		SubGenre:         subGenre,
		Format:           "epub",
		ContentHash:      "h-" + id,
		RemoteModifiedAt: seededAt,
		CreatedAt:        seededAt,
		SyncState:        models.SyncStateSynced,
	}
}

// setupOrganizer returns an organizer over four books: one classified, two
// the classifier can place and one it cannot.
func setupOrganizer(t *testing.T) (*Organizer, *library.Library) {
	t.Helper()
	store, err := database.NewPebbleStore(filepath.Join(t.TempDir(), "org.pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	hub := realtime.NewEventHub()
	t.Cleanup(hub.Close)
	lib := library.New(store, hub)

	recs := []*models.EbookRecord{
		book("dune", "SF/Dune.epub", "Dune", "Frank Herbert", "Fiction", "Science Fiction"),
		book("carrie", "Horror/Stephen King - Carrie.epub", "Carrie", models.PlaceholderAuthor, "", ""),
		book("emma", "Romance/Emma.epub", "Emma", "Jane Austen", models.UncategorizedLabel, ""),
		book("ledger", "Misc/Ledger.pdf", "Ledger", "A. Clerk", "", ""),
	}
	refs := make([]models.RecordRef, 0, len(recs))
	for _, r := range recs {
		refs = append(refs, r.Ref())
	}
	_, err = lib.CommitPage("gdrive", refs, "seed", func(tx *library.PageTx) error {
		for _, r := range recs {
			if err := tx.Put(r, models.OpCreated, ""); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return NewOrganizer(lib), lib
}

func TestTaxonomy(t *testing.T) {
	nodes := Taxonomy()

	require.Len(t, nodes, len(metadata.Taxonomy))
	assert.Equal(t, "Fiction", nodes[0].Category)
	assert.Contains(t, nodes[0].SubGenres, "Science Fiction")
}

func TestStats(t *testing.T) {
	org, _ := setupOrganizer(t)

	st, err := org.Stats(Scope{})

	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalBooks)
	assert.Equal(t, 1, st.ClassifiedBooks)
	assert.Equal(t, 3, st.UnclassifiedBooks)
	assert.Equal(t, 25.0, st.CoveragePercent)
	assert.Equal(t, map[string]int{"Fiction": 1, models.UncategorizedLabel: 1}, st.ByCategory)

	st, err = org.Stats(Scope{PathPrefix: "Horror/"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalBooks)
	assert.Zero(t, st.CoveragePercent)
}

func TestUnclassifiedPages(t *testing.T) {
	org, _ := setupOrganizer(t)

	records, total, err := org.Unclassified(Scope{Provider: "gdrive"}, 2, 0)

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, records, 2)
	for _, rec := range records {
		assert.NotEqual(t, "dune", rec.RemoteID)
	}
}

func TestPreviewWritesNothing(t *testing.T) {
	org, lib := setupOrganizer(t)

	pv, err := org.Preview(Scope{}, 0)

	require.NoError(t, err)
	assert.Equal(t, 3, pv.TotalToClassify)
	assert.Len(t, pv.Books, 3)
	assert.Equal(t, map[string]int{"Fiction": 2, models.UncategorizedLabel: 1}, pv.CategoryCounts)
	require.Len(t, pv.Tree["Fiction"]["Horror"], 1)
	carrie := pv.Tree["Fiction"]["Horror"][0]
	assert.Equal(t, ref("carrie"), carrie.Ref)
	assert.Equal(t, "Stephen King", carrie.Author)
	assert.Len(t, pv.Tree[models.UncategorizedLabel][metadata.OtherSubGenre], 1)

	rec, err := lib.Get(ref("carrie"))
	require.NoError(t, err)
	assert.Empty(t, rec.Category)
	assert.Equal(t, models.PlaceholderAuthor, rec.Author)
}

func TestClassify(t *testing.T) {
	org, lib := setupOrganizer(t)

	t.Run("places and fixes the author", func(t *testing.T) {
		res, err := org.Classify(ref("carrie"), false)
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.True(t, res.Updated)
		assert.Equal(t, SourceClassifier, res.Source)
		assert.Equal(t, "Stephen King", res.Author)

		rec, err := lib.Get(ref("carrie"))
		require.NoError(t, err)
		assert.Equal(t, "Fiction", rec.Category)
		assert.Equal(t, "Horror", rec.SubGenre)
		assert.Equal(t, "Stephen King", rec.Author)
	})

	t.Run("keeps an existing placement", func(t *testing.T) {
		res, err := org.Classify(ref("dune"), false)
		require.NoError(t, err)
		assert.Equal(t, SourceExisting, res.Source)
		assert.False(t, res.Updated)
		assert.Equal(t, "Science Fiction", res.SubGenre)
	})

	t.Run("force reruns the classifier", func(t *testing.T) {
		res, err := org.Classify(ref("dune"), true)
		require.NoError(t, err)
		assert.Equal(t, SourceClassifier, res.Source)
		assert.True(t, res.Matched)
		assert.False(t, res.Updated)
	})

	t.Run("no rule matches", func(t *testing.T) {
		res, err := org.Classify(ref("ledger"), false)
		require.NoError(t, err)
		assert.False(t, res.Matched)
		assert.False(t, res.Updated)
		assert.Equal(t, models.UncategorizedLabel, res.Category)
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := org.Classify(ref("missing"), false)
		assert.ErrorIs(t, err, library.ErrNotFound)
	})
}

func TestBatchClassifyWithOverrides(t *testing.T) {
	org, lib := setupOrganizer(t)

	res, err := org.BatchClassify(context.Background(), BatchRequest{
		Scope: Scope{Provider: "gdrive"},
		Overrides: map[models.RecordRef]metadata.Classification{
			ref("ledger"): {Category: "Non-Fiction", SubGenre: "History"},
			ref("ghost"):  {Category: "Fiction", SubGenre: "Horror"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalProcessed)
	assert.Equal(t, 3, res.NewlyClassified)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Unmatched)
	assert.Equal(t, map[string]metadata.Classification{
		"Misc/Ledger.pdf":                   {Category: "Non-Fiction", SubGenre: "History"},
		"Horror/Stephen King - Carrie.epub": {Category: "Fiction", SubGenre: "Horror"},
		"Romance/Emma.epub":                 {Category: "Fiction", SubGenre: "Romance"},
	}, res.Classifications)

	// The override is a local edit, the classifier output is canonical.
	overlay, err := lib.Overlay(ref("ledger"))
	require.NoError(t, err)
	require.NotNil(t, overlay)
	assert.Equal(t, "History", overlay.Fields[models.FieldSubGenre])

	st, err := org.Stats(Scope{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.CoveragePercent)

	again, err := org.BatchClassify(context.Background(), BatchRequest{})
	require.NoError(t, err)
	assert.Zero(t, again.TotalProcessed)
}

func TestBatchClassifyHonorsCancellation(t *testing.T) {
	org, _ := setupOrganizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := org.BatchClassify(ctx, BatchRequest{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.TotalProcessed)
}

func TestSetClassification(t *testing.T) {
	org, lib := setupOrganizer(t)

	rec, err := org.SetClassification(ref("emma"), "", "fantasy")

	require.NoError(t, err)
	assert.Equal(t, "Fiction", rec.Category)
	assert.Equal(t, "Fantasy", rec.SubGenre)
	assert.Equal(t, models.SyncStateLocalModified, rec.SyncState)
	canonical, err := lib.Lookup(ref("emma"))
	require.NoError(t, err)
	assert.Equal(t, models.UncategorizedLabel, canonical.Category)

	_, err = org.SetClassification(ref("emma"), "Cooking", "")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		category string
		subGenre string
		want     metadata.Classification
		wantErr  error
	}{
		{"category only", "fiction", "", metadata.Classification{Category: "Fiction"}, nil},
		{"canonical spelling", "Fiction", "horror", metadata.Classification{Category: "Fiction", SubGenre: "Horror"}, nil},
		{"inferred category", "", "History", metadata.Classification{Category: "Non-Fiction", SubGenre: "History"}, nil},
		{"sub-genre outside category", "Non-Fiction", "Horror", metadata.Classification{}, ErrInvalidSubGenre},
		{"unknown category", "Cooking", "", metadata.Classification{}, ErrInvalidCategory},
		{"unknown sub-genre", "", "Cozy", metadata.Classification{}, ErrInvalidSubGenre},
		{"nothing given", " ", "", metadata.Classification{}, ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.category, tt.subGenre)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
