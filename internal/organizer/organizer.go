// file: internal/organizer/organizer.go
// version: 2.0.0
// guid: 5e6f7a8b-9c0d-1e2f-3a4b-5c6d7e8f9a0b

// Package organizer places cached ebooks in the Category/SubGenre taxonomy.
// It reports coverage, previews proposed placements and applies them, either
// from the deterministic classifier or from manual choices.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/models"
)

// Sources reported on a Result.
const (
	SourceExisting   = "existing"
	SourceClassifier = "classifier"
)

const (
	defaultBatchLimit = 100
	maxBatchLimit     = 500
)

var (
	// ErrInvalidCategory is returned for categories outside the taxonomy.
	ErrInvalidCategory = errors.New("category is not in the taxonomy")
	// ErrInvalidSubGenre is returned for sub-genres outside the taxonomy or
	// outside the chosen category.
	ErrInvalidSubGenre = errors.New("sub-genre is not in the taxonomy")
)

// Library is the slice of the local cache the organizer works on.
type Library interface {
	Get(ref models.RecordRef) (*models.EbookRecord, error)
	List(filter database.RecordFilter) ([]models.EbookRecord, error)
	Count(filter database.RecordFilter) (int, error)
	UpdateMetadata(ref models.RecordRef, fn func(rec *models.EbookRecord) bool) (bool, error)
	ApplyLocalEdit(ref models.RecordRef, fields map[string]string) (*models.EbookRecord, error)
}

// Scope narrows an operation to one provider and/or a remote path prefix.
type Scope struct {
	Provider   string `json:"provider,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
}

func (s Scope) filter() database.RecordFilter {
	return database.RecordFilter{Provider: s.Provider, PathPrefix: s.PathPrefix}
}

// Organizer classifies records of a Library.
type Organizer struct {
	lib Library
}

// NewOrganizer creates a new organizer instance
func NewOrganizer(lib Library) *Organizer {
	return &Organizer{lib: lib}
}

// TaxonomyNode is one category and its sub-genres in taxonomy order.
type TaxonomyNode struct {
	Category  string   `json:"category"`
	SubGenres []string `json:"sub_genres"`
}

// Taxonomy returns the category tree.
func Taxonomy() []TaxonomyNode {
	out := make([]TaxonomyNode, 0, len(metadata.Taxonomy))
	for _, cat := range metadata.Taxonomy {
		node := TaxonomyNode{Category: cat.Name, SubGenres: make([]string, 0, len(cat.SubGenres))}
		for _, sg := range cat.SubGenres {
			node.SubGenres = append(node.SubGenres, sg.Name)
		}
		out = append(out, node)
	}
	return out
}

// Stats describes classification coverage.
type Stats struct {
	TotalBooks        int            `json:"total_books"`
	ClassifiedBooks   int            `json:"classified_books"`
	UnclassifiedBooks int            `json:"unclassified_books"`
	ByCategory        map[string]int `json:"by_category"`
	BySubGenre        map[string]int `json:"by_sub_genre"`
	CoveragePercent   float64        `json:"coverage_percent"`
}

// Stats counts classified and unclassified records in scope.
func (o *Organizer) Stats(scope Scope) (*Stats, error) {
	records, err := o.lib.List(scope.filter())
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	st := &Stats{
		TotalBooks: len(records),
		ByCategory: make(map[string]int),
		BySubGenre: make(map[string]int),
	}
	for i := range records {
		rec := &records[i]
		if rec.Classified() {
			st.ClassifiedBooks++
		}
		if rec.Category != "" {
			st.ByCategory[rec.Category]++
		}
		if rec.SubGenre != "" {
			st.BySubGenre[rec.SubGenre]++
		}
	}
	st.UnclassifiedBooks = st.TotalBooks - st.ClassifiedBooks
	if st.TotalBooks > 0 {
		st.CoveragePercent = math.Round(float64(st.ClassifiedBooks)/float64(st.TotalBooks)*1000) / 10
	}
	return st, nil
}

// Unclassified pages through records without a full placement.
func (o *Organizer) Unclassified(scope Scope, limit, offset int) ([]models.EbookRecord, int, error) {
	filter := scope.filter()
	filter.Unclassified = true
	total, err := o.lib.Count(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count unclassified records: %w", err)
	}
	filter.Limit, filter.Offset = limit, offset
	records, err := o.lib.List(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list unclassified records: %w", err)
	}
	return records, total, nil
}

// Proposal is the placement the classifier suggests for one record.
type Proposal struct {
	Ref              models.RecordRef `json:"ref"`
	Title            string           `json:"title"`
	Author           string           `json:"author"`
	CurrentCategory  string           `json:"current_category"`
	CurrentSubGenre  string           `json:"current_sub_genre"`
	ProposedCategory string           `json:"proposed_category"`
	ProposedSubGenre string           `json:"proposed_sub_genre"`
}

// Preview is a dry run over unclassified records, grouped
// Category -> SubGenre.
type Preview struct {
	TotalToClassify int                              `json:"total_to_classify"`
	Tree            map[string]map[string][]Proposal `json:"tree"`
	CategoryCounts  map[string]int                   `json:"category_counts"`
	Books           []Proposal                       `json:"books"`
}

// Preview proposes placements for up to limit unclassified records without
// writing anything.
func (o *Organizer) Preview(scope Scope, limit int) (*Preview, error) {
	records, _, err := o.Unclassified(scope, clampLimit(limit), 0)
	if err != nil {
		return nil, err
	}
	pv := &Preview{
		Tree:           make(map[string]map[string][]Proposal),
		CategoryCounts: make(map[string]int),
		Books:          make([]Proposal, 0, len(records)),
	}
	for i := range records {
		rec := &records[i]
		if rec.Classified() {
			// Placed by a pending local edit.
			continue
		}
		c, author := propose(rec)
		sub := c.SubGenre
		if sub == "" {
			sub = metadata.OtherSubGenre
		}
		if author == "" {
			author = rec.Author
		}
		p := Proposal{
			Ref:              rec.Ref(),
			Title:            rec.Title,
			Author:           author,
			CurrentCategory:  rec.Category,
			CurrentSubGenre:  rec.SubGenre,
			ProposedCategory: c.Category,
			ProposedSubGenre: sub,
		}
		if pv.Tree[c.Category] == nil {
			pv.Tree[c.Category] = make(map[string][]Proposal)
		}
		pv.Tree[c.Category][sub] = append(pv.Tree[c.Category][sub], p)
		pv.CategoryCounts[c.Category]++
		pv.Books = append(pv.Books, p)
	}
	pv.TotalToClassify = len(pv.Books)
	return pv, nil
}

// Result is the outcome of classifying one record.
type Result struct {
	Ref      models.RecordRef `json:"ref"`
	Category string           `json:"category"`
	SubGenre string           `json:"sub_genre"`
	Author   string           `json:"author"`
	Source   string           `json:"source"`
	Updated  bool             `json:"updated"`
	// Matched is false when no rule placed the record.
	Matched  bool             `json:"matched"`
}

// Classify places one record. Records that are already classified are left
// alone unless force is set.
func (o *Organizer) Classify(ref models.RecordRef, force bool) (*Result, error) {
	rec, err := o.lib.Get(ref)
	if err != nil {
		return nil, err
	}
	if rec.Classified() && !force {
		return &Result{
			Ref: ref, Category: rec.Category, SubGenre: rec.SubGenre, Author: rec.Author,
			Source: SourceExisting, Matched: true,
		}, nil
	}

	c, author := propose(rec)
	res := &Result{Ref: ref, Category: c.Category, SubGenre: c.SubGenre, Author: rec.Author, Source: SourceClassifier}
	if c.Category == models.UncategorizedLabel {
		return res, nil
	}
	res.Matched = true
	res.Updated, err = o.lib.UpdateMetadata(ref, func(cur *models.EbookRecord) bool {
		changed := false
		if cur.Category != c.Category || cur.SubGenre != c.SubGenre {
			cur.Category, cur.SubGenre = c.Category, c.SubGenre
			changed = true
		}
		if author != "" && !metadata.IsValidAuthor(cur.Author) {
			cur.Author = author
			res.Author = author
			changed = true
		}
		return changed
	})
	if err != nil {
		return nil, fmt.Errorf("failed to classify %s: %w", ref, err)
	}
	return res, nil
}

// propose runs the classifier over what the cache knows about rec. A
// record's own sub-genre counts as a declared genre. The author is only
// returned when the stored one is unusable and the file name offers one.
func propose(rec *models.EbookRecord) (metadata.Classification, string) {
	c := metadata.Classify(rec.SubGenre, rec.RemotePath, rec.Description, rec.Title, nil)
	author := ""
	if !metadata.IsValidAuthor(rec.Author) {
		if a, ok := metadata.AuthorFromFilename(rec.RemotePath); ok {
			author = a
		}
	}
	return c, author
}

// BatchRequest selects records for BatchClassify. With Refs set only those
// records are classified; otherwise unclassified records in Scope are, or
// every record in Scope when Force is set. Overrides are applied first and
// are not classified again.
type BatchRequest struct {
	Refs      []models.RecordRef
	Scope     Scope
	Force     bool
	Limit     int
	Overrides map[models.RecordRef]metadata.Classification
}

// BatchResult counts what BatchClassify did. Classifications is keyed by
// remote path so callers can mirror the placement onto local storage.
type BatchResult struct {
	TotalProcessed    int                                `json:"total_processed"`
	NewlyClassified   int                                `json:"newly_classified"`
	AlreadyClassified int                                `json:"already_classified"`
	Unmatched         int                                `json:"unmatched"`
	Failed            int                                `json:"failed"`
	Classifications   map[string]metadata.Classification `json:"classifications"`
}

// BatchClassify classifies a set of records. Per-record failures are
// counted, not returned; only listing failures and cancellation abort.
func (o *Organizer) BatchClassify(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	out := &BatchResult{Classifications: make(map[string]metadata.Classification)}
	done := make(map[models.RecordRef]bool, len(req.Overrides))

	overrideRefs := make([]models.RecordRef, 0, len(req.Overrides))
	for ref := range req.Overrides {
		overrideRefs = append(overrideRefs, ref)
	}
	sort.Slice(overrideRefs, func(i, j int) bool { return overrideRefs[i].Less(overrideRefs[j]) })
	for _, ref := range overrideRefs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		c := req.Overrides[ref]
		before, err := o.lib.Get(ref)
		if err != nil {
			log.Printf("[WARN] classification override for %s failed: %v", ref, err)
			out.Failed++
			continue
		}
		rec, err := o.SetClassification(ref, c.Category, c.SubGenre)
		if err != nil {
			log.Printf("[WARN] classification override for %s failed: %v", ref, err)
			out.Failed++
			continue
		}
		done[ref] = true
		out.TotalProcessed++
		if before.Category != rec.Category || before.SubGenre != rec.SubGenre {
			out.NewlyClassified++
		} else {
			out.AlreadyClassified++
		}
		out.record(rec.RemotePath, rec.Category, rec.SubGenre)
	}

	refs, err := o.batchTargets(req, done)
	if err != nil {
		return out, err
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := o.Classify(ref, req.Force)
		if err != nil {
			log.Printf("[WARN] classification of %s failed: %v", ref, err)
			out.Failed++
			continue
		}
		out.TotalProcessed++
		switch {
		case !res.Matched:
			out.Unmatched++
		case res.Updated:
			out.NewlyClassified++
		default:
			out.AlreadyClassified++
		}
		if res.Matched {
			if rec, err := o.lib.Get(ref); err == nil {
				out.record(rec.RemotePath, res.Category, res.SubGenre)
			}
		}
	}
	log.Printf("[INFO] batch classification: %d processed, %d newly classified, %d unmatched, %d failed",
		out.TotalProcessed, out.NewlyClassified, out.Unmatched, out.Failed)
	return out, nil
}

func (r *BatchResult) record(path, category, subGenre string) {
	if path != "" {
		r.Classifications[path] = metadata.Classification{Category: category, SubGenre: subGenre}
	}
}

func (o *Organizer) batchTargets(req BatchRequest, skip map[models.RecordRef]bool) ([]models.RecordRef, error) {
	limit := clampLimit(req.Limit)
	var refs []models.RecordRef
	if len(req.Refs) > 0 {
		for _, ref := range req.Refs {
			if !skip[ref] && len(refs) < limit {
				refs = append(refs, ref)
			}
		}
		return refs, nil
	}
	filter := req.Scope.filter()
	filter.Unclassified = !req.Force
	records, err := o.lib.List(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list records to classify: %w", err)
	}
	for i := range records {
		ref := records[i].Ref()
		if skip[ref] || (!req.Force && records[i].Classified()) {
			continue
		}
		if len(refs) == limit {
			break
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// SetClassification records a manual placement as a local edit. A missing
// category is inferred from the sub-genre. Names are matched without regard
// to case and stored in their canonical spelling.
func (o *Organizer) SetClassification(ref models.RecordRef, category, subGenre string) (*models.EbookRecord, error) {
	c, err := Validate(category, subGenre)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{models.FieldCategory: c.Category}
	if c.SubGenre != "" {
		fields[models.FieldSubGenre] = c.SubGenre
	}
	return o.lib.ApplyLocalEdit(ref, fields)
}

// Validate resolves category and subGenre against the taxonomy. At least
// one of them must be given.
func Validate(category, subGenre string) (metadata.Classification, error) {
	category, subGenre = strings.TrimSpace(category), strings.TrimSpace(subGenre)
	if category == "" && subGenre == "" {
		return metadata.Classification{}, fmt.Errorf("%w: a category or sub-genre is required", ErrInvalidCategory)
	}
	var cat *metadata.Category
	if category != "" {
		for i := range metadata.Taxonomy {
			if strings.EqualFold(metadata.Taxonomy[i].Name, category) {
				cat = &metadata.Taxonomy[i]
				break
			}
		}
		if cat == nil {
			return metadata.Classification{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
		}
		if subGenre == "" {
			return metadata.Classification{Category: cat.Name}, nil
		}
	}
	for i := range metadata.Taxonomy {
		c := &metadata.Taxonomy[i]
		if cat != nil && c != cat {
			continue
		}
		for _, sg := range c.SubGenres {
			if strings.EqualFold(sg.Name, subGenre) {
				return metadata.Classification{Category: c.Name, SubGenre: sg.Name}, nil
			}
		}
	}
	if cat != nil {
		return metadata.Classification{}, fmt.Errorf("%w: %q is not under %s", ErrInvalidSubGenre, subGenre, cat.Name)
	}
	return metadata.Classification{}, fmt.Errorf("%w: %q", ErrInvalidSubGenre, subGenre)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultBatchLimit
	case limit > maxBatchLimit:
		return maxBatchLimit
	}
	return limit
}
