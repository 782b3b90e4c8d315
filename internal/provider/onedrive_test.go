// file: internal/provider/onedrive_test.go
// version: 1.0.0
// guid: e7b41d2a-6c09-4a83-9f5e-1b8c3d7a0f64

package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/ebook-organizer/internal/metadata"
)

func newGraphServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	book := map[string]any{
		"id": "i1", "name": "The Hobbit.epub", "size": 9,
		"lastModifiedDateTime": "2024-03-01T12:00:00Z",
		"file": map[string]any{
			"mimeType": "application/epub+zip",
			"hashes":   map[string]any{"sha1Hash": "ABCDEF", "quickXorHash": "qx=="},
		},
		"parentReference": map[string]any{"path": "/drive/root:/Books/Tolkien%20J"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/me/drive/root/delta", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token") {
		case "":
			writeJSON(w, map[string]any{
				"@odata.nextLink": srv.URL + "/me/drive/root/delta?token=page2",
				"value": []any{
					map[string]any{"id": "root", "name": "root", "folder": map[string]any{}},
					book,
					map[string]any{"id": "x1", "name": "old.epub", "deleted": map[string]any{"state": "deleted"}},
				},
			})
		case "page2":
			writeJSON(w, map[string]any{
				"@odata.deltaLink": srv.URL + "/me/drive/root/delta?token=d1",
				"value": []any{map[string]any{"id": "p1", "name": "photo.png", "file": map[string]any{"mimeType": "image/png"}}},
			})
		case "d1":
			writeJSON(w, map[string]any{
				"@odata.deltaLink": srv.URL + "/me/drive/root/delta?token=d2",
				"value": []any{
					book,
					map[string]any{"id": "x1", "deleted": map[string]any{"state": "deleted"}},
				},
			})
		default:
			w.WriteHeader(http.StatusGone)
		}
	})
	mux.HandleFunc("/me/drive/items/i1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, book)
	})
	mux.HandleFunc("/me/drive/items/i1/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "in a hole")
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOneDriveAdapterDelta(t *testing.T) {
	// Arrange
	srv := newGraphServer(t)
	o := NewOneDriveAdapter("onedrive", srv.Client(), OneDriveOptions{BaseURL: srv.URL})
	ctx := context.Background()

	// Act + Assert: initial enumeration skips folders and deleted items
	page, err := o.ListChanges(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Changes, 1)
	c := page.Changes[0]
	assert.Equal(t, ChangeCreated, c.Kind)
	assert.Equal(t, "abcdef", c.ContentHash)
	assert.Equal(t, "Books/Tolkien J/The Hobbit.epub", c.Metadata[metadata.KeyPath])
	assert.True(t, page.HasMore)

	page, err = o.ListChanges(ctx, page.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, page.Changes)
	assert.False(t, page.HasMore)
	assert.Equal(t, srv.URL+"/me/drive/root/delta?token=d1", page.NextCursor)

	page, err = o.ListChanges(ctx, page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, map[string]ChangeKind{"i1": ChangeUpdated, "x1": ChangeDeleted}, kindsByID(page))

	_, err = o.ListChanges(ctx, srv.URL+"/me/drive/root/delta?token=stale")
	assert.ErrorIs(t, err, ErrCursorExpired)
	_, err = o.ListChanges(ctx, "https://attacker.example/delta")
	assert.ErrorIs(t, err, ErrCursorExpired)
}

func TestOneDriveAdapterFetchContent(t *testing.T) {
	srv := newGraphServer(t)
	o := NewOneDriveAdapter("onedrive", srv.Client(), OneDriveOptions{BaseURL: srv.URL})

	content, err := o.FetchContent(context.Background(), "i1")
	require.NoError(t, err)
	defer content.Body.Close()
	body, err := io.ReadAll(content.Body)
	require.NoError(t, err)
	assert.Equal(t, "in a hole", string(body))
	assert.Equal(t, int64(9), content.Size)

	_, err = o.FetchContent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraphPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"/drive/root:", "a.epub", "a.epub"},
		{"/drive/root:/Books", "a.epub", "Books/a.epub"},
		{"/drives/x/root:/Sci%20Fi", "a.epub", "Sci Fi/a.epub"},
		{"", "a.epub", "a.epub"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, graphPath(tt.parent, tt.name), tt.parent)
	}
}
