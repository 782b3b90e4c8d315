// file: internal/metadata/enricher.go
// version: 1.0.0
// guid: 6f1e3a85-4c2b-4d97-a0e8-3b5d7f9c1a62

package metadata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/matcher"
	"github.com/jdfalk/ebook-organizer/internal/metrics"
	"github.com/jdfalk/ebook-organizer/internal/models"
)

// ConfidenceThreshold is the minimum lookup confidence accepted.
const ConfidenceThreshold = 0.75

// Metadata sources recorded on the record.
const (
	SourceEmbedded    = "embedded"
	SourceFilename    = "filename"
	SourceLookup      = "lookup"
	SourcePlaceholder = "placeholder"
)

// Keys of the minimal metadata map carried by provider changes and content.
const (
	KeyTitle       = "title"
	KeyAuthor      = "author"
	KeyDescription = "description"
	KeyGenre       = "genre"
	KeyPublisher   = "publisher"
	KeyLanguage    = "language"
	KeyISBN        = "isbn"
	KeyPath        = "path"
	KeyFormat      = "format"
	KeyMimeType    = "mime_type"
)

// ErrCorruptMetadata marks metadata that leaked out of a binary container.
var ErrCorruptMetadata = errors.New("embedded metadata is unreadable")

// Candidate is a lookup match and how sure the lookup is about it (0..1).
type Candidate struct {
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	Subjects   []string `json:"subjects,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Lookup finds a book from partial hints. A nil candidate with a nil error
// means nothing matched.
type Lookup interface {
	Lookup(ctx context.Context, titleHint, authorHint string) (*Candidate, error)
}

// Embedded is the metadata available for one item before enrichment.
type Embedded struct {
	Title       string
	Author      string
	Description string
	Genre       string
	Publisher   string
	Language    string
	ISBN        string
	Path        string
	Format      string
}

// EmbeddedFromMap reads the well-known keys of a provider metadata map.
func EmbeddedFromMap(m map[string]string) Embedded {
	get := func(k string) string { return strings.TrimSpace(m[k]) }
	return Embedded{
		Title:       get(KeyTitle),
		Author:      get(KeyAuthor),
		Description: get(KeyDescription),
		Genre:       get(KeyGenre),
		Publisher:   get(KeyPublisher),
		Language:    get(KeyLanguage),
		ISBN:        get(KeyISBN),
		Path:        get(KeyPath),
		Format:      FormatOf(get(KeyFormat), get(KeyPath), get(KeyMimeType)),
	}
}

// Merge fills blank fields of e from other.
func (e Embedded) Merge(other Embedded) Embedded {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&e.Title, other.Title)
	fill(&e.Author, other.Author)
	fill(&e.Description, other.Description)
	fill(&e.Genre, other.Genre)
	fill(&e.Publisher, other.Publisher)
	fill(&e.Language, other.Language)
	fill(&e.ISBN, other.ISBN)
	fill(&e.Path, other.Path)
	fill(&e.Format, other.Format)
	return e
}

// Complete reports whether title and author are both usable as delivered.
func (e Embedded) Complete() bool {
	if e.Title == "" || !IsPrintableText(e.Title) {
		return false
	}
	_, ok := ValidAuthor(e.Author)
	return ok
}

var mimeFormats = map[string]string{
	"application/epub+zip":           "epub",
	"application/pdf":                "pdf",
	"application/x-mobipocket-ebook": "mobi",
	"application/vnd.amazon.ebook":   "azw",
	"application/x-cbz":              "cbz",
	"application/vnd.comicbook+zip":  "cbz",
	"text/plain":                     "txt",
}

// FormatOf normalizes a declared format, falling back to the mime type and
// then the file extension.
func FormatOf(declared, p, mimeType string) string {
	if declared != "" {
		return strings.ToLower(strings.TrimPrefix(declared, "."))
	}
	if f, ok := mimeFormats[strings.ToLower(mimeType)]; ok {
		return f
	}
	if ext := path.Ext(strings.ReplaceAll(p, "\\", "/")); ext != "" {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// Result is the normalized metadata for one record.
type Result struct {
	Title           string
	Author          string
	Description     string
	Publisher       string
	Language        string
	ISBN            string
	Format          string
	Classification  Classification
	Source          string
	NeedsEnrichment bool
}

// Apply copies the result onto rec.
func (r *Result) Apply(rec *models.EbookRecord) {
	rec.Title = r.Title
	rec.Author = r.Author
	rec.Description = r.Description
	rec.Publisher = r.Publisher
	rec.Language = r.Language
	rec.ISBN = r.ISBN
	if r.Format != "" {
		rec.Format = r.Format
	}
	rec.Category = r.Classification.Category
	rec.SubGenre = r.Classification.SubGenre
	rec.MetadataSource = r.Source
	rec.NeedsEnrichment = r.NeedsEnrichment
}

// Enricher normalizes embedded metadata into record fields. The lookup is
// optional; without one, incomplete records keep placeholders.
type Enricher struct {
	lookup Lookup
}

// NewEnricher creates an enricher. lookup may be nil.
func NewEnricher(lookup Lookup) *Enricher {
	return &Enricher{lookup: lookup}
}

// Enrich builds the record metadata for in. Title and author come from the
// embedded values, then the file name, then an accepted lookup; whatever is
// still missing gets a placeholder and the result is flagged for
// re-enrichment. Lookup failures degrade to placeholders. Only unreadable
// metadata and cancellation are errors.
func (e *Enricher) Enrich(ctx context.Context, in Embedded) (*Result, error) {
	if in.Title != "" && !IsPrintableText(in.Title) {
		return nil, fmt.Errorf("%w: title of %q", ErrCorruptMetadata, in.Path)
	}
	res := &Result{
		Title:     strings.TrimSpace(in.Title),
		Publisher: printableOrEmpty(in.Publisher),
		Language:  printableOrEmpty(in.Language),
		ISBN:      printableOrEmpty(in.ISBN),
		Format:    in.Format,
	}
	res.Description = printableOrEmpty(in.Description)
	if author, ok := ValidAuthor(in.Author); ok {
		res.Author = author
	}
	if res.Title != "" || res.Author != "" {
		res.Source = SourceEmbedded
	}

	if res.Title == "" || res.Author == "" {
		hints := matcher.ParseFilename(in.Path)
		fromName := false
		if res.Title == "" && hints.Title != "" {
			res.Title, fromName = hints.Title, true
		}
		if res.Author == "" {
			if author, ok := AuthorFromFilename(in.Path); ok {
				res.Author, fromName = author, true
			}
		}
		if fromName && res.Source == "" {
			res.Source = SourceFilename
		}
	}

	var subjects []string
	if res.Title == "" || res.Author == "" {
		cand, err := e.consult(ctx, res.Title, res.Author)
		if err != nil {
			return nil, err
		}
		if cand != nil {
			if res.Title == "" {
				res.Title = cand.Title
			}
			if res.Author == "" {
				if author, ok := ValidAuthor(cand.Author); ok {
					res.Author = author
				}
			}
			subjects = cand.Subjects
			if res.Source == "" {
				res.Source = SourceLookup
			}
		}
	}

	if res.Title == "" {
		res.Title = models.PlaceholderTitle
		res.NeedsEnrichment = true
	}
	if res.Author == "" {
		res.Author = models.PlaceholderAuthor
		res.NeedsEnrichment = true
	}
	if res.Source == "" {
		res.Source = SourcePlaceholder
	}

	title := res.Title
	if title == models.PlaceholderTitle {
		title = ""
	}
	res.Classification = Classify(in.Genre, in.Path, res.Description, title, subjects)
	return res, nil
}

// consult calls the lookup and returns the candidate only when accepted.
func (e *Enricher) consult(ctx context.Context, titleHint, authorHint string) (*Candidate, error) {
	if e.lookup == nil || (titleHint == "" && authorHint == "") {
		return nil, nil
	}
	cand, err := e.lookup.Lookup(ctx, titleHint, authorHint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.IncEnrichmentLookup("error")
		log.Printf("[WARN] metadata lookup failed for %q / %q: %v", titleHint, authorHint, err)
		return nil, nil
	}
	if cand == nil || cand.Confidence < ConfidenceThreshold {
		metrics.IncEnrichmentLookup("rejected")
		if cand != nil {
			log.Printf("[DEBUG] metadata lookup rejected %q (confidence %.2f)", cand.Title, cand.Confidence)
		}
		return nil, nil
	}
	metrics.IncEnrichmentLookup("accepted")
	return cand, nil
}

func printableOrEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !IsPrintableText(s) {
		return ""
	}
	return s
}

// RecordUpdater is the slice of the library a re-enrichment sweep needs.
type RecordUpdater interface {
	List(filter database.RecordFilter) ([]models.EbookRecord, error)
	UpdateMetadata(ref models.RecordRef, fn func(rec *models.EbookRecord) bool) (bool, error)
}

// ReEnrich retries the lookup for records flagged needs_enrichment and
// fills placeholders from accepted candidates. It returns how many records
// were updated. Records whose placeholders were replaced in the meantime
// are left alone.
func (e *Enricher) ReEnrich(ctx context.Context, lib RecordUpdater, limit int) (int, error) {
	if e.lookup == nil {
		return 0, nil
	}
	pending, err := lib.List(database.RecordFilter{NeedsEnrichment: true, Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("failed to list records needing enrichment: %w", err)
	}
	updated := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		rec := &pending[i]
		titleHint, authorHint := hintsOf(rec)
		cand, err := e.consult(ctx, titleHint, authorHint)
		if err != nil {
			return updated, err
		}
		if cand == nil {
			continue
		}
		changed, err := lib.UpdateMetadata(rec.Ref(), func(current *models.EbookRecord) bool {
			return fillFromCandidate(current, cand)
		})
		if err != nil {
			log.Printf("[WARN] re-enrichment of %s failed: %v", rec.Ref(), err)
			continue
		}
		if changed {
			updated++
		}
	}
	if updated > 0 {
		log.Printf("[INFO] re-enrichment filled metadata for %d of %d records", updated, len(pending))
	}
	return updated, nil
}

func hintsOf(rec *models.EbookRecord) (string, string) {
	title, author := rec.Title, rec.Author
	if title == models.PlaceholderTitle {
		title = matcher.CleanTitle(rec.RemotePath)
	}
	if author == models.PlaceholderAuthor {
		author = ""
	}
	return title, author
}

// fillFromCandidate replaces placeholders on rec and reclassifies it if it
// was uncategorized. It reports whether anything changed.
func fillFromCandidate(rec *models.EbookRecord, cand *Candidate) bool {
	if !rec.NeedsEnrichment {
		return false
	}
	changed := false
	if rec.Title == models.PlaceholderTitle && cand.Title != "" {
		rec.Title = cand.Title
		changed = true
	}
	if rec.Author == models.PlaceholderAuthor {
		if author, ok := ValidAuthor(cand.Author); ok {
			rec.Author = author
			changed = true
		}
	}
	if !changed {
		return false
	}
	if rec.Category == "" || rec.Category == models.UncategorizedLabel {
		if c, ok := ClassifySubjects(cand.Subjects); ok {
			rec.Category, rec.SubGenre = c.Category, c.SubGenre
		}
	}
	rec.NeedsEnrichment = rec.Title == models.PlaceholderTitle || rec.Author == models.PlaceholderAuthor
	rec.MetadataSource = SourceLookup
	return true
}
