// file: internal/metadata/classifier.go
// version: 1.0.0
// guid: 9b2d4f61-8e3a-4c75-b1d0-6a4e2c8f5d39

package metadata

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdfalk/ebook-organizer/internal/matcher"
	"github.com/jdfalk/ebook-organizer/internal/models"
)

// authorBlacklist holds values that tools and download sites leave in the
// author field.
var authorBlacklist = map[string]bool{
	"unknown": true, "unknown author": true, "none": true, "null": true, "n/a": true, "na": true,
	"admin": true, "administrator": true, "user": true, "owner": true,
	"author": true, "writer": true, "editor": true,
	"various": true, "various authors": true, "anonymous": true,
	"nullobject": true, "null object": true,
	"calibre": true, "calibre user": true,
	"acrobat": true, "adobe": true,
	"gnv64": true, "mobilism": true, "libgen": true, "z-library": true,
	"downmagaz.net": true, "downmagaz": true, "useruplod.net": true, "userupload": true,
}

var authorBlacklistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^IndirectObject`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^.{1,2}$`),
	regexp.MustCompile(`(?i)^https?://`),
	regexp.MustCompile(`(?i)^www\.`),
	regexp.MustCompile(`(?i)\.(com|net|org)$`),
}

var (
	authorRoleSuffix = regexp.MustCompile(`(?i)\s+(author|editor|translator|compiled by)\s*$`)
	authorLifeYears  = regexp.MustCompile(`,?\s*\d{4}\s*-\s*\d{0,4}\s*$`)
)

// maxSymbolRun is the longest run of non-ASCII non-letters tolerated in a
// text field before it is treated as binary garbage.
const maxSymbolRun = 5

// IsPrintableText reports whether s looks like human text rather than bytes
// that leaked out of a binary container.
func IsPrintableText(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	if strings.HasPrefix(s, "b'") || strings.HasPrefix(s, `b"`) || strings.Contains(s, `\x`) {
		return false
	}
	total, printable, run := 0, 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
		if r == utf8.RuneError {
			return false
		}
		if r > unicode.MaxASCII && !unicode.IsLetter(r) && !unicode.IsMark(r) {
			run++
			if run > maxSymbolRun {
				return false
			}
		} else {
			run = 0
		}
	}
	return float64(printable)/float64(total) >= 0.8
}

// IsValidAuthor reports whether author is a plausible person or
// organization name.
func IsValidAuthor(author string) bool {
	author = strings.TrimSpace(author)
	if !IsPrintableText(author) {
		return false
	}
	if authorBlacklist[strings.ToLower(author)] {
		return false
	}
	for _, re := range authorBlacklistPatterns {
		if re.MatchString(author) {
			return false
		}
	}
	return true
}

// CleanAuthorName strips role suffixes, life years and trailing
// punctuation: "Mark Twain, 1835-1910" becomes "Mark Twain".
func CleanAuthorName(author string) string {
	author = authorRoleSuffix.ReplaceAllString(author, "")
	author = authorLifeYears.ReplaceAllString(author, "")
	author = strings.TrimRight(author, ".,;:")
	return strings.TrimSpace(author)
}

// ValidAuthor cleans author and returns it if it passes validation.
func ValidAuthor(author string) (string, bool) {
	if !IsPrintableText(author) {
		return "", false
	}
	cleaned := CleanAuthorName(author)
	if cleaned == "" || !IsValidAuthor(cleaned) {
		return "", false
	}
	return cleaned, true
}

// AuthorFromFilename extracts a validated author from a file name.
func AuthorFromFilename(p string) (string, bool) {
	hints := matcher.ParseFilename(p)
	if hints.Author == "" {
		return "", false
	}
	return ValidAuthor(hints.Author)
}

// Classify runs the deterministic rules in priority order: declared genres,
// folder names, description text, lookup subjects, then title keywords.
// Nothing matching yields Uncategorized.
func Classify(genre, remotePath, description, title string, subjects []string) Classification {
	if IsPrintableText(genre) {
		if c, ok := ClassifyGenres(genre); ok {
			return c
		}
	}
	if c, ok := ClassifyFolder(remotePath); ok {
		return c
	}
	if IsPrintableText(description) {
		if c, ok := ClassifyText(description); ok {
			return c
		}
	}
	if c, ok := ClassifySubjects(subjects); ok {
		return c
	}
	if c, ok := ClassifyTitle(title); ok {
		return c
	}
	if c, ok := ClassifyTitle(matcher.Stem(remotePath)); ok {
		return c
	}
	return Classification{Category: models.UncategorizedLabel}
}
