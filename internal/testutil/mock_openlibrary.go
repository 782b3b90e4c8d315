// file: internal/testutil/mock_openlibrary.go
// version: 2.0.0
// guid: c3d4e5f6-a7b8-9012-cdef-345678901abc

package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// MockOpenLibrary is an httptest.Server that mimics the Open Library search
// API and counts the requests it served.
type MockOpenLibrary struct {
	*httptest.Server
	hits atomic.Int64
}

// Hits returns how many requests reached the server.
func (m *MockOpenLibrary) Hits() int {
	return int(m.hits.Load())
}

// MockOpenLibraryServer creates a server whose responses map keys are matched
// against the decoded request URL using Contains. Unmatched requests get the
// empty search response. The server is closed when the test ends.
func MockOpenLibraryServer(t *testing.T, responses map[string]string) *MockOpenLibrary {
	t.Helper()
	m := &MockOpenLibrary{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)
		if r.URL.Path != "/search.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		var parts []string
		for k, vs := range r.URL.Query() {
			parts = append(parts, k+"="+strings.Join(vs, ","))
		}
		query := strings.ToLower(strings.Join(parts, "&"))
		for pattern, body := range responses {
			if strings.Contains(query, strings.ToLower(pattern)) {
				_, _ = w.Write([]byte(body))
				return
			}
		}
		_, _ = w.Write([]byte(OpenLibraryEmptyResponse))
	}))
	t.Cleanup(m.Close)
	return m
}

// OpenLibraryHobbitResponse is a standard search response for "The Hobbit".
const OpenLibraryHobbitResponse = `{
	"numFound": 1,
	"start": 0,
	"docs": [{
		"title": "The Hobbit",
		"author_name": ["J.R.R. Tolkien"],
		"subject": ["Fantasy fiction", "Middle Earth (Imaginary place)", "Wizards"]
	}]
}`

// OpenLibraryDuneResponse lists the right book second behind a weaker match.
const OpenLibraryDuneResponse = `{
	"numFound": 2,
	"start": 0,
	"docs": [
		{"title": "Dune Messiah", "author_name": ["Frank Herbert"], "subject": ["Science fiction"]},
		{"title": "Dune", "author_name": ["Frank Herbert"], "subject": ["Fiction / Science Fiction / General", "Desert"]}
	]
}`

// OpenLibraryEmptyResponse returns no results.
const OpenLibraryEmptyResponse = `{"numFound":0,"start":0,"docs":[]}`
