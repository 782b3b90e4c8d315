// file: internal/provider/onedrive.go
// version: 1.0.0
// guid: 9c4a7e13-2b6f-4d85-b1e0-8a5f3c7d2e69

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/metadata"
)

const defaultGraphURL = "https://graph.microsoft.com/v1.0"

// graphItem is the subset of a Graph driveItem we read.
type graphItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	Description          string    `json:"description"`
	File                 *struct {
		MimeType string `json:"mimeType"`
		Hashes   struct {
			SHA1Hash     string `json:"sha1Hash"`
			SHA256Hash   string `json:"sha256Hash"`
			QuickXorHash string `json:"quickXorHash"`
		} `json:"hashes"`
	} `json:"file"`
	Folder  *struct{} `json:"folder"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`
	ParentReference struct {
		Path string `json:"path"`
	} `json:"parentReference"`
}

type graphDelta struct {
	Value     []graphItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

// OneDriveAdapter reads a OneDrive through the Microsoft Graph delta API.
// Cursors are the nextLink and deltaLink URLs Graph hands out; an expired
// delta link (410 Gone) surfaces as ErrCursorExpired.
type OneDriveAdapter struct {
	id       string
	baseURL  string
	folderID string
	http     *httpDoer
}

// OneDriveOptions configures a OneDriveAdapter.
type OneDriveOptions struct {
	BaseURL           string
	FolderID          string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewOneDriveAdapter creates an adapter over an authenticated client.
func NewOneDriveAdapter(id string, client *http.Client, opts OneDriveOptions) *OneDriveAdapter {
	base := opts.BaseURL
	if base == "" {
		base = defaultGraphURL
	}
	return &OneDriveAdapter{
		id:       id,
		baseURL:  strings.TrimRight(base, "/"),
		folderID: opts.FolderID,
		http:     newHTTPDoer(id, client, opts.RequestsPerSecond, opts.Timeout),
	}
}

// ID returns the provider id.
func (o *OneDriveAdapter) ID() string {
	return o.id
}

func (o *OneDriveAdapter) rootURL() string {
	if o.folderID != "" {
		return o.baseURL + "/me/drive/items/" + url.PathEscape(o.folderID)
	}
	return o.baseURL + "/me/drive/root"
}

// ListChanges returns the next page of the drive delta.
func (o *OneDriveAdapter) ListChanges(ctx context.Context, cursor string) (*DeltaPage, error) {
	link := cursor
	if link == "" {
		link = o.rootURL() + "/delta"
	} else if err := o.checkLink(link); err != nil {
		return nil, err
	}

	var out graphDelta
	if err := o.http.getJSON(ctx, "onedrive.delta", link, &out); err != nil {
		return nil, err
	}

	page := &DeltaPage{}
	for i := range out.Value {
		if c, ok := o.toChange(&out.Value[i], cursor == ""); ok {
			page.Changes = append(page.Changes, c)
		}
	}
	switch {
	case out.NextLink != "":
		page.NextCursor = out.NextLink
		page.HasMore = true
	case out.DeltaLink != "":
		page.NextCursor = out.DeltaLink
	default:
		return nil, &NetworkError{Op: "onedrive.delta", Err: fmt.Errorf("reply carried no delta link")}
	}
	return page, nil
}

// checkLink refuses cursors pointing anywhere but the configured API, so the
// bearer token is never sent to another host.
func (o *OneDriveAdapter) checkLink(link string) error {
	u, err := url.Parse(link)
	base, baseErr := url.Parse(o.baseURL)
	if err != nil || baseErr != nil || u.Scheme != base.Scheme || u.Host != base.Host {
		return fmt.Errorf("%w: foreign delta link %q", ErrCursorExpired, link)
	}
	return nil
}

// toChange converts a delta item. During the initial enumeration every
// live file is reported as Created.
func (o *OneDriveAdapter) toChange(it *graphItem, initial bool) (Change, bool) {
	if it.Deleted != nil {
		if initial {
			return Change{}, false
		}
		return Change{RemoteID: it.ID, Kind: ChangeDeleted, RemoteModifiedAt: it.LastModifiedDateTime}, true
	}
	if it.Folder != nil || it.File == nil {
		return Change{}, false
	}
	format := ebookFormat(it.Name, it.File.MimeType)
	if format == "" {
		return Change{}, false
	}
	kind := ChangeUpdated
	if initial {
		kind = ChangeCreated
	}
	meta := map[string]string{
		metadata.KeyPath:     graphPath(it.ParentReference.Path, it.Name),
		metadata.KeyMimeType: it.File.MimeType,
		metadata.KeyFormat:   format,
	}
	if it.Description != "" {
		meta[metadata.KeyDescription] = it.Description
	}
	return Change{
		RemoteID:         it.ID,
		Kind:             kind,
		ContentHash:      graphHash(it),
		RemoteModifiedAt: it.LastModifiedDateTime,
		SizeBytes:        it.Size,
		Metadata:         meta,
	}, true
}

// graphHash prefers sha256, then sha1 (personal drives), then quickXor
// (business drives).
func graphHash(it *graphItem) string {
	h := it.File.Hashes
	switch {
	case h.SHA256Hash != "":
		return strings.ToLower(h.SHA256Hash)
	case h.SHA1Hash != "":
		return strings.ToLower(h.SHA1Hash)
	}
	return h.QuickXorHash
}

// graphPath turns "/drive/root:/Books/Fantasy" plus a name into
// "Books/Fantasy/name".
func graphPath(parent, name string) string {
	if i := strings.Index(parent, "root:"); i >= 0 {
		parent = parent[i+len("root:"):]
	} else {
		parent = ""
	}
	if unescaped, err := url.PathUnescape(parent); err == nil {
		parent = unescaped
	}
	return strings.TrimPrefix(path.Join(parent, name), "/")
}

// FetchContent downloads an item. Graph answers /content with a redirect
// to a pre-authenticated URL, which the client follows.
func (o *OneDriveAdapter) FetchContent(ctx context.Context, remoteID string) (*Content, error) {
	itemURL := o.baseURL + "/me/drive/items/" + url.PathEscape(remoteID)

	var it graphItem
	if err := o.http.getJSON(ctx, "onedrive.items.get", itemURL, &it); err != nil {
		return nil, err
	}
	if it.Deleted != nil || it.File == nil {
		return nil, fmt.Errorf("onedrive.items.get %s: %w", remoteID, ErrNotFound)
	}
	resp, err := o.http.get(ctx, "onedrive.items.content", itemURL+"/content")
	if err != nil {
		return nil, err
	}
	size := it.Size
	if resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	meta := map[string]string{
		metadata.KeyPath:     graphPath(it.ParentReference.Path, it.Name),
		metadata.KeyMimeType: it.File.MimeType,
	}
	if it.Description != "" {
		meta[metadata.KeyDescription] = it.Description
	}
	return &Content{Body: resp.Body, Size: size, Metadata: meta}, nil
}
