// file: internal/provider/gdrive.go
// version: 1.0.0
// guid: 5b8d1e27-9f4a-4c63-a0b2-7e3f6d9c1a58

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/metadata"
)

const (
	defaultGoogleDriveURL = "https://www.googleapis.com/drive/v3"
	driveFolderMimeType   = "application/vnd.google-apps.folder"
	driveFileFields       = "id,name,mimeType,md5Checksum,modifiedTime,size,parents,trashed,description"
	drivePageSize         = 100

	driveListPrefix    = "list:"
	driveChangesPrefix = "changes:"
)

// driveFile is the subset of a Drive v3 File resource we read.
type driveFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	MD5Checksum  string    `json:"md5Checksum"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         string    `json:"size"`
	Parents      []string  `json:"parents"`
	Trashed      bool      `json:"trashed"`
	Description  string    `json:"description"`
}

type driveFileList struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

type driveChange struct {
	FileID  string     `json:"fileId"`
	Removed bool       `json:"removed"`
	Time    time.Time  `json:"time"`
	File    *driveFile `json:"file"`
}

type driveChangeList struct {
	NextPageToken     string        `json:"nextPageToken"`
	NewStartPageToken string        `json:"newStartPageToken"`
	Changes           []driveChange `json:"changes"`
}

type driveStartToken struct {
	StartPageToken string `json:"startPageToken"`
}

// GoogleDriveAdapter reads a Drive through the v3 REST API. A full
// enumeration walks files.list and then hands over to changes.list from the
// start token taken before the walk, so nothing changed during the walk is
// missed. Cursors are "list:<start,page>" during the walk and
// "changes:<token>" afterwards.
type GoogleDriveAdapter struct {
	id       string
	baseURL  string
	folderID string
	http     *httpDoer
}

// GoogleDriveOptions configures a GoogleDriveAdapter.
type GoogleDriveOptions struct {
	BaseURL           string
	FolderID          string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewGoogleDriveAdapter creates an adapter over an authenticated client.
func NewGoogleDriveAdapter(id string, client *http.Client, opts GoogleDriveOptions) *GoogleDriveAdapter {
	base := opts.BaseURL
	if base == "" {
		base = defaultGoogleDriveURL
	}
	return &GoogleDriveAdapter{
		id:       id,
		baseURL:  strings.TrimRight(base, "/"),
		folderID: opts.FolderID,
		http:     newHTTPDoer(id, client, opts.RequestsPerSecond, opts.Timeout),
	}
}

// ID returns the provider id.
func (g *GoogleDriveAdapter) ID() string {
	return g.id
}

// ListChanges returns the next page of the Drive change stream.
func (g *GoogleDriveAdapter) ListChanges(ctx context.Context, cursor string) (*DeltaPage, error) {
	switch {
	case cursor == "":
		start, err := g.startPageToken(ctx)
		if err != nil {
			return nil, err
		}
		return g.listFiles(ctx, start, "")
	case strings.HasPrefix(cursor, driveListPrefix):
		q, err := url.ParseQuery(strings.TrimPrefix(cursor, driveListPrefix))
		if err != nil || q.Get("start") == "" {
			return nil, fmt.Errorf("%w: malformed drive cursor %q", ErrCursorExpired, cursor)
		}
		return g.listFiles(ctx, q.Get("start"), q.Get("page"))
	case strings.HasPrefix(cursor, driveChangesPrefix):
		return g.listChanges(ctx, strings.TrimPrefix(cursor, driveChangesPrefix))
	}
	return nil, fmt.Errorf("%w: unknown drive cursor %q", ErrCursorExpired, cursor)
}

func (g *GoogleDriveAdapter) startPageToken(ctx context.Context) (string, error) {
	var out driveStartToken
	if err := g.http.getJSON(ctx, "drive.getStartPageToken", g.baseURL+"/changes/startPageToken", &out); err != nil {
		return "", err
	}
	if out.StartPageToken == "" {
		return "", &NetworkError{Op: "drive.getStartPageToken", Err: fmt.Errorf("empty start page token")}
	}
	return out.StartPageToken, nil
}

func (g *GoogleDriveAdapter) listFiles(ctx context.Context, start, pageToken string) (*DeltaPage, error) {
	q := "trashed = false and mimeType != '" + driveFolderMimeType + "'"
	if g.folderID != "" {
		q += " and '" + g.folderID + "' in parents"
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "nextPageToken,files("+driveFileFields+")")
	params.Set("pageSize", strconv.Itoa(drivePageSize))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var out driveFileList
	if err := g.http.getJSON(ctx, "drive.files.list", g.baseURL+"/files?"+params.Encode(), &out); err != nil {
		return nil, err
	}

	page := &DeltaPage{}
	for i := range out.Files {
		if c, ok := g.toChange(&out.Files[i], ChangeCreated); ok {
			page.Changes = append(page.Changes, c)
		}
	}
	if out.NextPageToken != "" {
		next := url.Values{}
		next.Set("start", start)
		next.Set("page", out.NextPageToken)
		page.NextCursor = driveListPrefix + next.Encode()
		page.HasMore = true
	} else {
		// The walk is done; everything after the start token is in changes.list.
		page.NextCursor = driveChangesPrefix + start
		page.HasMore = true
	}
	return page, nil
}

func (g *GoogleDriveAdapter) listChanges(ctx context.Context, token string) (*DeltaPage, error) {
	params := url.Values{}
	params.Set("pageToken", token)
	params.Set("includeRemoved", "true")
	params.Set("pageSize", strconv.Itoa(drivePageSize))
	params.Set("fields", "nextPageToken,newStartPageToken,changes(fileId,removed,time,file("+driveFileFields+"))")

	var out driveChangeList
	if err := g.http.getJSON(ctx, "drive.changes.list", g.baseURL+"/changes?"+params.Encode(), &out); err != nil {
		return nil, err
	}

	page := &DeltaPage{}
	for _, ch := range out.Changes {
		// Files moved out of the synced folder are gone as far as we know.
		outside := ch.File != nil && g.folderID != "" && !containsString(ch.File.Parents, g.folderID)
		if ch.Removed || ch.File == nil || ch.File.Trashed || outside {
			page.Changes = append(page.Changes, Change{
				RemoteID:         ch.FileID,
				Kind:             ChangeDeleted,
				RemoteModifiedAt: ch.Time,
			})
			continue
		}
		if c, ok := g.toChange(ch.File, ChangeUpdated); ok {
			page.Changes = append(page.Changes, c)
		}
	}
	switch {
	case out.NextPageToken != "":
		page.NextCursor = driveChangesPrefix + out.NextPageToken
		page.HasMore = true
	case out.NewStartPageToken != "":
		page.NextCursor = driveChangesPrefix + out.NewStartPageToken
	default:
		return nil, &NetworkError{Op: "drive.changes.list", Err: fmt.Errorf("reply carried no page token")}
	}
	return page, nil
}

// toChange converts an ebook file to a change, skipping folders, other
// file types and files outside the configured folder.
func (g *GoogleDriveAdapter) toChange(f *driveFile, kind ChangeKind) (Change, bool) {
	if f.MimeType == driveFolderMimeType {
		return Change{}, false
	}
	if g.folderID != "" && !containsString(f.Parents, g.folderID) {
		return Change{}, false
	}
	format := ebookFormat(f.Name, f.MimeType)
	if format == "" {
		return Change{}, false
	}
	size, _ := strconv.ParseInt(f.Size, 10, 64)
	meta := map[string]string{
		metadata.KeyPath:     f.Name,
		metadata.KeyMimeType: f.MimeType,
		metadata.KeyFormat:   format,
	}
	if f.Description != "" {
		meta[metadata.KeyDescription] = f.Description
	}
	return Change{
		RemoteID:         f.ID,
		Kind:             kind,
		ContentHash:      f.MD5Checksum,
		RemoteModifiedAt: f.ModifiedTime,
		SizeBytes:        size,
		Metadata:         meta,
	}, true
}

// FetchContent downloads a file with alt=media.
func (g *GoogleDriveAdapter) FetchContent(ctx context.Context, remoteID string) (*Content, error) {
	fileURL := g.baseURL + "/files/" + url.PathEscape(remoteID)

	var f driveFile
	if err := g.http.getJSON(ctx, "drive.files.get", fileURL+"?fields="+url.QueryEscape(driveFileFields), &f); err != nil {
		return nil, err
	}
	if f.Trashed {
		return nil, fmt.Errorf("drive.files.get %s: %w", remoteID, ErrNotFound)
	}
	resp, err := g.http.get(ctx, "drive.files.download", fileURL+"?alt=media")
	if err != nil {
		return nil, err
	}
	size, _ := strconv.ParseInt(f.Size, 10, 64)
	if resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	meta := map[string]string{
		metadata.KeyPath:     f.Name,
		metadata.KeyMimeType: f.MimeType,
	}
	if f.Description != "" {
		meta[metadata.KeyDescription] = f.Description
	}
	return &Content{Body: resp.Body, Size: size, Metadata: meta}, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
