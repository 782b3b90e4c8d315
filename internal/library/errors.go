// file: internal/library/errors.go
// version: 1.0.0
// guid: 0b7d4e21-8c3a-4f5b-a6e9-2d1c7f8b3e54

package library

import "errors"

var (
	// ErrNotFound is returned for refs that are absent or tombstoned.
	ErrNotFound = errors.New("ebook not found")
	// ErrConflict is returned when an operation needs a conflict resolved first.
	ErrConflict = errors.New("ebook has an unresolved sync conflict")
	// ErrNoConflict is returned by ResolveConflict for records not in conflict.
	ErrNoConflict = errors.New("ebook is not in conflict")
	// ErrInvalidField is returned for edits naming non-editable fields.
	ErrInvalidField = errors.New("field is not editable")
	// ErrInvalidTag is returned for tags that normalize to nothing.
	ErrInvalidTag = errors.New("tag is empty")
	// ErrUnlockedRef is returned when a page transaction touches a ref it did not lock.
	ErrUnlockedRef = errors.New("ref not locked by this page")
)
