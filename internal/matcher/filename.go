// file: internal/matcher/filename.go
// version: 2.0.0
// guid: 1f2a3b4c-5d6e-7f8a-9b0c-1d2e3f4a5b6c

package matcher

import (
	"path"
	"regexp"
	"strings"
)

// Download-site junk that shows up in shared ebook file names.
var junkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`@\w+`),
	regexp.MustCompile(`(?i)\s*\(\s*PDFDrive\s*\)\s*`),
	regexp.MustCompile(`(?i)\s*\(\s*z-lib\.org\s*\)\s*`),
}

// Name layouts tried in order. The first one that matches wins.
var filenamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?P<author>[^-–—]+?)\s*[-–—]\s*(?P<title>.+)$`), // "Author - Title"
	regexp.MustCompile(`^(?P<title>.+?)\s*[-–—]\s*(?P<author>[^-–—]+)$`), // "Title - Author"
	regexp.MustCompile(`^(?P<title>.+?)\s*\((?P<author>[^)]+)\)$`),       // "Title (Author)"
	regexp.MustCompile(`^(?P<title>.+?)\s*\[(?P<author>[^\]]+)\]$`),      // "Title [Author]"
}

var (
	bracketedRe = regexp.MustCompile(`\[.*?\]|\(.*?\)`)
	dashRe      = regexp.MustCompile(`\s*[-–—]\s*`)
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	formatRe    = regexp.MustCompile(`(?i)\b(epub|pdf|mobi|azw3?)\b`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// FilenameHints is what a file name suggests about the book inside it.
type FilenameHints struct {
	Title  string
	Author string
}

// Stem returns the base name of p without its extension. Both slash styles
// are accepted since remote paths are not always POSIX.
func Stem(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func stripJunk(stem string) string {
	for _, re := range junkPatterns {
		stem = re.ReplaceAllString(stem, " ")
	}
	stem = strings.ReplaceAll(stem, "_", " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(stem, " "))
}

// ParseFilename splits a file name into title and author using the common
// dash, parenthesis and bracket layouts. Author is
// empty when no layout matched or the candidate does not look like a name.
func ParseFilename(p string) FilenameHints {
	name := stripJunk(Stem(p))
	if name == "" {
		return FilenameHints{}
	}
	for _, re := range filenamePatterns {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		author := strings.TrimSpace(m[re.SubexpIndex("author")])
		title := strings.TrimSpace(m[re.SubexpIndex("title")])
		words := len(strings.Fields(author))
		if author == "" || words > 4 {
			continue
		}
		// A long multi-word "author" next to a short title is really "Title - Author".
		if title != "" && float64(len(author)) > float64(len(title))*1.5 && words > 2 {
			author, title = title, author
		}
		return FilenameHints{Title: title, Author: author}
	}
	return FilenameHints{Title: CleanTitle(p)}
}

// CleanTitle reduces a file name to a search-friendly title: junk,
// bracketed notes, years and format words are removed.
func CleanTitle(p string) string {
	name := stripJunk(Stem(p))
	name = bracketedRe.ReplaceAllString(name, " ")
	name = dashRe.ReplaceAllString(name, " ")
	name = yearRe.ReplaceAllString(name, " ")
	name = formatRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(spaceRe.ReplaceAllString(name, " "))
	if len([]rune(name)) < 3 {
		return ""
	}
	return name
}
