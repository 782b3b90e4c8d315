// file: internal/provider/formats.go
// version: 1.0.0
// guid: 0f6c2a84-5d3b-4e97-8a1f-3b9d7e5c1a46

package provider

import "github.com/jdfalk/ebook-organizer/internal/metadata"

var ebookFormats = map[string]bool{
	"epub": true, "pdf": true, "mobi": true, "azw": true, "azw3": true,
	"fb2": true, "djvu": true, "cbz": true, "cbr": true, "txt": true,
}

// IsEbookFormat reports whether format is synced.
func IsEbookFormat(format string) bool {
	return ebookFormats[format]
}

// ebookFormat resolves the format of a remote file from its name and mime
// type, returning "" for files that are not ebooks.
func ebookFormat(name, mimeType string) string {
	f := metadata.FormatOf("", name, mimeType)
	if !IsEbookFormat(f) {
		// A generic mime type must not hide a known extension.
		if byExt := metadata.FormatOf("", name, ""); IsEbookFormat(byExt) {
			return byExt
		}
		return ""
	}
	return f
}
