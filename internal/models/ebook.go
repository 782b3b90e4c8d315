// file: internal/models/ebook.go
// version: 2.0.0
// guid: 3c1e7a52-9d4b-4f6e-8a2c-5b7d9e1f3a6c

package models

import (
	"fmt"
	"strings"
	"time"
)

// SyncState describes how a cached record relates to its remote copy.
type SyncState string

const (
	SyncStateSynced        SyncState = "synced"
	SyncStateLocalModified SyncState = "local_modified"
	SyncStateConflict      SyncState = "conflict"
	SyncStateDeleted       SyncState = "deleted"
)

// PlaceholderTitle and PlaceholderAuthor are stored when neither embedded
// metadata nor an accepted lookup supplied a value.
const (
	PlaceholderTitle   = "Unknown Title"
	PlaceholderAuthor  = "Unknown Author"
	UncategorizedLabel = "Uncategorized"
)

// RecordRef identifies an ebook by the provider that owns it and the
// provider's own identifier for the file.
type RecordRef struct {
	Provider string `json:"provider" yaml:"provider"`
	RemoteID string `json:"remote_id" yaml:"remote_id"`
}

// String renders the ref as "provider/remote_id".
func (r RecordRef) String() string {
	return r.Provider + "/" + r.RemoteID
}

// IsZero reports whether either half of the identity is missing.
func (r RecordRef) IsZero() bool {
	return r.Provider == "" || r.RemoteID == ""
}

// Less orders refs by provider, then remote id.
func (r RecordRef) Less(o RecordRef) bool {
	if r.Provider != o.Provider {
		return r.Provider < o.Provider
	}
	return r.RemoteID < o.RemoteID
}

// ParseRecordRef parses the "provider/remote_id" form produced by String.
// Remote ids may themselves contain slashes (local folder paths).
func ParseRecordRef(s string) (RecordRef, error) {
	provider, remoteID, ok := strings.Cut(s, "/")
	if !ok || provider == "" || remoteID == "" {
		return RecordRef{}, fmt.Errorf("invalid record ref %q", s)
	}
	return RecordRef{Provider: provider, RemoteID: remoteID}, nil
}

// Editable metadata fields. Local edits and overlays are keyed by these names.
const (
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldDescription = "description"
	FieldCategory    = "category"
	FieldSubGenre    = "sub_genre"
	FieldPublisher   = "publisher"
	FieldLanguage    = "language"
	FieldISBN        = "isbn"
)

// EditableFields lists every field a local edit may touch.
var EditableFields = []string{
	FieldTitle, FieldAuthor, FieldDescription, FieldCategory,
	FieldSubGenre, FieldPublisher, FieldLanguage, FieldISBN,
}

// IsEditableField reports whether name is a known editable field.
func IsEditableField(name string) bool {
	for _, f := range EditableFields {
		if f == name {
			return true
		}
	}
	return false
}

// RemoteVersion is an incoming remote state held back because it
// conflicts with a pending local edit.
type RemoteVersion struct {
	ContentHash      string            `json:"content_hash"`
	RemoteModifiedAt time.Time         `json:"remote_modified_at"`
	SizeBytes        int64             `json:"size_bytes"`
	RemotePath       string            `json:"remote_path,omitempty"`
	Format           string            `json:"format,omitempty"`
	Fields           map[string]string `json:"fields"`
}

// EbookRecord is the cached view of one remote ebook.
type EbookRecord struct {
	Provider         string         `json:"provider" yaml:"provider"`
	RemoteID         string         `json:"remote_id" yaml:"remote_id"`
	Title            string         `json:"title" yaml:"title"`
	Author           string         `json:"author" yaml:"author"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	Category         string         `json:"category" yaml:"category"`
	SubGenre         string         `json:"sub_genre" yaml:"sub_genre"`
	Publisher        string         `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Language         string         `json:"language,omitempty" yaml:"language,omitempty"`
	ISBN             string         `json:"isbn,omitempty" yaml:"isbn,omitempty"`
	Format           string         `json:"format" yaml:"format"`
	SizeBytes        int64          `json:"size_bytes" yaml:"size_bytes"`
	RemotePath       string         `json:"remote_path,omitempty" yaml:"remote_path,omitempty"`
	ContentHash      string         `json:"content_hash" yaml:"content_hash"`
	RemoteModifiedAt time.Time      `json:"remote_modified_at" yaml:"remote_modified_at"`
	LocalModifiedAt  time.Time      `json:"local_modified_at" yaml:"local_modified_at"`
	CreatedAt        time.Time      `json:"created_at" yaml:"created_at"`
	SyncState        SyncState      `json:"sync_state" yaml:"sync_state"`
	MetadataSource   string         `json:"metadata_source,omitempty" yaml:"metadata_source,omitempty"`
	NeedsEnrichment  bool           `json:"needs_enrichment" yaml:"needs_enrichment"`
	Deleted          bool           `json:"deleted" yaml:"deleted"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty" yaml:"deleted_at,omitempty"`
	PendingRemote    *RemoteVersion `json:"pending_remote,omitempty" yaml:"-"`
	Tags             []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Ref returns the record identity.
func (r *EbookRecord) Ref() RecordRef {
	return RecordRef{Provider: r.Provider, RemoteID: r.RemoteID}
}

// Classified reports whether the record has both a real category and a
// sub-genre.
func (r *EbookRecord) Classified() bool {
	return r.Category != "" && r.Category != UncategorizedLabel && r.SubGenre != ""
}

// Clone returns a deep copy.
func (r *EbookRecord) Clone() *EbookRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	if r.PendingRemote != nil {
		pr := *r.PendingRemote
		pr.Fields = cloneFields(r.PendingRemote.Fields)
		c.PendingRemote = &pr
	}
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return &c
}

// Field returns the value of an editable field.
func (r *EbookRecord) Field(name string) string {
	switch name {
	case FieldTitle:
		return r.Title
	case FieldAuthor:
		return r.Author
	case FieldDescription:
		return r.Description
	case FieldCategory:
		return r.Category
	case FieldSubGenre:
		return r.SubGenre
	case FieldPublisher:
		return r.Publisher
	case FieldLanguage:
		return r.Language
	case FieldISBN:
		return r.ISBN
	}
	return ""
}

// SetField assigns an editable field. Unknown names are an error.
func (r *EbookRecord) SetField(name, value string) error {
	switch name {
	case FieldTitle:
		r.Title = value
	case FieldAuthor:
		r.Author = value
	case FieldDescription:
		r.Description = value
	case FieldCategory:
		r.Category = value
	case FieldSubGenre:
		r.SubGenre = value
	case FieldPublisher:
		r.Publisher = value
	case FieldLanguage:
		r.Language = value
	case FieldISBN:
		r.ISBN = value
	default:
		return fmt.Errorf("unknown field %q", name)
	}
	return nil
}

// Fields snapshots every editable field.
func (r *EbookRecord) Fields() map[string]string {
	out := make(map[string]string, len(EditableFields))
	for _, f := range EditableFields {
		out[f] = r.Field(f)
	}
	return out
}

// ApplyFields copies every known field in diff onto the record.
func (r *EbookRecord) ApplyFields(diff map[string]string) {
	for k, v := range diff {
		_ = r.SetField(k, v)
	}
}

// LocalEditOverlay holds user edits that have not yet been reconciled
// with a later remote delta.
type LocalEditOverlay struct {
	Ref        RecordRef         `json:"ref"`
	Fields     map[string]string `json:"fields"`
	ModifiedAt time.Time         `json:"modified_at"`
}

// Clone returns a deep copy.
func (o *LocalEditOverlay) Clone() *LocalEditOverlay {
	if o == nil {
		return nil
	}
	c := *o
	c.Fields = cloneFields(o.Fields)
	return &c
}

// SyncOperation is the kind of a sync log entry.
type SyncOperation string

const (
	OpCreated          SyncOperation = "Created"
	OpUpdated          SyncOperation = "Updated"
	OpDeleted          SyncOperation = "Deleted"
	OpConflictDetected SyncOperation = "ConflictDetected"
	OpErrorSkipped     SyncOperation = "ErrorSkipped"
)

// SyncLogEntry is one append-only line of a provider's sync history.
// CursorPosition is strictly increasing per provider.
type SyncLogEntry struct {
	Provider       string        `json:"provider"`
	CursorPosition uint64        `json:"cursor_position"`
	Cursor         string        `json:"cursor"`
	Operation      SyncOperation `json:"operation"`
	Ref            RecordRef     `json:"record_ref"`
	Timestamp      time.Time     `json:"timestamp"`
	Message        string        `json:"message,omitempty"`
}

// Pause reasons recorded on a provider account.
const (
	PauseReasonAuthExpired    = "auth_expired"
	PauseReasonErrorThreshold = "error_threshold"
)

// CloudProviderAccount is the persisted sync state of one provider.
type CloudProviderAccount struct {
	ProviderID            string     `json:"provider_id"`
	Enabled               bool       `json:"enabled"`
	LastCursor            string     `json:"last_cursor"`
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
	ConsecutiveErrorCount int        `json:"consecutive_error_count"`
	Paused                bool       `json:"paused"`
	PauseReason           string     `json:"pause_reason,omitempty"`
	LastError             string     `json:"last_error,omitempty"`
	LogSequence           uint64     `json:"log_sequence"`
	PagesSynced           int64      `json:"pages_synced"`
}

// Clone returns a deep copy.
func (a *CloudProviderAccount) Clone() *CloudProviderAccount {
	if a == nil {
		return nil
	}
	c := *a
	if a.LastSyncAt != nil {
		t := *a.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

// LibraryStats aggregates the live (non-tombstoned) library.
type LibraryStats struct {
	TotalRecords   int                   `json:"total_records"`
	TotalSizeBytes int64                 `json:"total_size_bytes"`
	Conflicts      int                   `json:"conflicts"`
	ByCategory     map[string]int        `json:"by_category"`
	ByFormat       map[string]int        `json:"by_format"`
	ByProvider     map[string]int        `json:"by_provider"`
	LastSyncAt     map[string]*time.Time `json:"last_sync_at"`
}

func cloneFields(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
