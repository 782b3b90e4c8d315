// file: internal/metadata/openlibrary.go
// version: 2.0.0
// guid: 1a2b3c4d-5e6f-7a8b-9c0d-1e2f3a4b5c6d

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdfalk/ebook-organizer/internal/cache"
	"github.com/jdfalk/ebook-organizer/internal/matcher"
	"github.com/jdfalk/ebook-organizer/internal/metrics"
)

const (
	defaultOpenLibraryURL = "https://openlibrary.org"
	openLibraryUserAgent  = "ebook-organizer/1.0 (+https://github.com/jdfalk/ebook-organizer)"
	openLibraryCacheTTL   = 24 * time.Hour
	openLibraryResultSize = 5

	// Weights of the title and author similarity when both hints are given.
	titleWeight  = 0.6
	authorWeight = 0.4
	// titleOnlyFactor discounts matches that could not be checked against an
	// author, since many books share a title.
	titleOnlyFactor = 0.9
)

// SearchResult is one document of an Open Library search response.
type SearchResult struct {
	Title      string   `json:"title"`
	AuthorName []string `json:"author_name"`
	Subject    []string `json:"subject"`
}

// SearchResponse is the Open Library search.json payload.
type SearchResponse struct {
	NumFound int            `json:"numFound"`
	Start    int            `json:"start"`
	Docs     []SearchResult `json:"docs"`
}

// OpenLibraryLookup implements Lookup against the Open Library search API.
// Requests are rate limited and results, including misses, are cached.
type OpenLibraryLookup struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	cache      *cache.Cache[*Candidate]
}

// NewOpenLibraryLookup creates a lookup using OPENLIBRARY_BASE_URL when set.
func NewOpenLibraryLookup(requestsPerSecond float64) *OpenLibraryLookup {
	baseURL := os.Getenv("OPENLIBRARY_BASE_URL")
	if baseURL == "" {
		baseURL = defaultOpenLibraryURL
	}
	return NewOpenLibraryLookupWithBaseURL(baseURL, requestsPerSecond)
}

// NewOpenLibraryLookupWithBaseURL creates a lookup with a custom base URL. A
// non-positive rate disables limiting.
func NewOpenLibraryLookupWithBaseURL(baseURL string, requestsPerSecond float64) *OpenLibraryLookup {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &OpenLibraryLookup{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(limit, 1),
		cache:      cache.New[*Candidate](openLibraryCacheTTL),
	}
}

// Name returns the display name for this metadata source.
func (c *OpenLibraryLookup) Name() string {
	return "Open Library"
}

// Lookup searches by title and optional author and returns the best scoring
// document. Author-only hints are not searched: an author alone does not
// identify a book.
func (c *OpenLibraryLookup) Lookup(ctx context.Context, titleHint, authorHint string) (*Candidate, error) {
	titleHint, authorHint = strings.TrimSpace(titleHint), strings.TrimSpace(authorHint)
	if titleHint == "" {
		return nil, nil
	}
	key := strings.ToLower(titleHint + "|" + authorHint)
	if cand, ok := c.cache.Get(key); ok {
		metrics.IncEnrichmentLookup("cached")
		return cand, nil
	}

	docs, err := c.search(ctx, titleHint, authorHint)
	if err != nil {
		return nil, err
	}
	var best *Candidate
	for _, doc := range docs {
		cand := score(doc, titleHint, authorHint)
		if best == nil || cand.Confidence > best.Confidence {
			best = cand
		}
	}
	c.cache.Set(key, best)
	return best, nil
}

func (c *OpenLibraryLookup) search(ctx context.Context, title, author string) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("fields", "title,author_name,subject")
	params.Set("limit", fmt.Sprint(openLibraryResultSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build Open Library request: %w", err)
	}
	req.Header.Set("User-Agent", openLibraryUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search Open Library: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Open Library API returned status %d", resp.StatusCode)
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return searchResp.Docs, nil
}

// score turns a search document into a candidate whose confidence is the
// fuzzy similarity of the document to the hints.
func score(doc SearchResult, titleHint, authorHint string) *Candidate {
	cand := &Candidate{Title: doc.Title, Subjects: doc.Subject}
	if len(doc.AuthorName) > 0 {
		cand.Author = doc.AuthorName[0]
	}
	titleScore := matcher.Similarity(titleHint, doc.Title)
	if authorHint == "" {
		cand.Confidence = titleScore * titleOnlyFactor
		return cand
	}
	authorScore := 0.0
	for _, name := range doc.AuthorName {
		if s := matcher.Similarity(authorHint, name); s > authorScore {
			authorScore = s
			cand.Author = name
		}
	}
	cand.Confidence = titleWeight*titleScore + authorWeight*authorScore
	return cand
}
