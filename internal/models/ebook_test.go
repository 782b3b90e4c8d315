// file: internal/models/ebook_test.go
// version: 2.1.0
// guid: 7f2b8c41-6a3d-4e95-b1c7-2d8e4f6a9b03

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseRecordRef tests parsing of the provider/remote_id form
func TestParseRecordRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RecordRef
		wantErr bool
	}{
		{name: "simple", input: "google_drive/abc123", want: RecordRef{Provider: "google_drive", RemoteID: "abc123"}},
		{name: "nested path", input: "local/fiction/dune.epub", want: RecordRef{Provider: "local", RemoteID: "fiction/dune.epub"}},
		{name: "missing id", input: "onedrive/", wantErr: true},
		{name: "missing separator", input: "onedrive", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecordRef(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

// TestRecordRefLess tests ref ordering
func TestRecordRefLess(t *testing.T) {
	a := RecordRef{Provider: "a", RemoteID: "2"}
	b := RecordRef{Provider: "b", RemoteID: "1"}
	c := RecordRef{Provider: "a", RemoteID: "3"}

	assert.True(t, a.Less(b))
	assert.True(t, a.Less(c))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

// TestEbookRecordFields tests the editable field accessors
func TestEbookRecordFields(t *testing.T) {
	rec := &EbookRecord{Provider: "p", RemoteID: "1", Title: "Dune"}

	require.NoError(t, rec.SetField(FieldAuthor, "Frank Herbert"))
	assert.Equal(t, "Frank Herbert", rec.Field(FieldAuthor))
	assert.Error(t, rec.SetField("size_bytes", "10"))

	rec.ApplyFields(map[string]string{FieldCategory: "Fiction", "bogus": "x"})
	assert.Equal(t, "Fiction", rec.Category)

	fields := rec.Fields()
	assert.Len(t, fields, len(EditableFields))
	assert.Equal(t, "Dune", fields[FieldTitle])
	assert.True(t, IsEditableField(FieldISBN))
	assert.False(t, IsEditableField("content_hash"))
}

// TestEbookRecordClone tests that clones share no mutable state
func TestEbookRecordClassified(t *testing.T) {
	assert.True(t, (&EbookRecord{Category: "Fiction", SubGenre: "Horror"}).Classified())
	assert.False(t, (&EbookRecord{Category: "Fiction"}).Classified())
	assert.False(t, (&EbookRecord{Category: UncategorizedLabel, SubGenre: "Other"}).Classified())
	assert.False(t, (&EbookRecord{}).Classified())
}

func TestEbookRecordClone(t *testing.T) {
	now := time.Now()
	rec := &EbookRecord{
		Provider:  "p",
		RemoteID:  "1",
		DeletedAt: &now,
		Tags:      []string{"scifi"},
		PendingRemote: &RemoteVersion{
			ContentHash: "h2",
			Fields:      map[string]string{FieldTitle: "Remote"},
		},
	}

	clone := rec.Clone()
	clone.Tags[0] = "changed"
	clone.PendingRemote.Fields[FieldTitle] = "changed"
	*clone.DeletedAt = now.Add(time.Hour)

	assert.Equal(t, "scifi", rec.Tags[0])
	assert.Equal(t, "Remote", rec.PendingRemote.Fields[FieldTitle])
	assert.True(t, rec.DeletedAt.Equal(now))
	assert.Nil(t, (*EbookRecord)(nil).Clone())
}

// TestAccountClone tests provider account copies
func TestAccountClone(t *testing.T) {
	now := time.Now()
	acct := &CloudProviderAccount{ProviderID: "p", LastSyncAt: &now}
	clone := acct.Clone()
	*clone.LastSyncAt = now.Add(time.Minute)
	assert.True(t, acct.LastSyncAt.Equal(now))
}
