// file: internal/syncer/errors.go
// version: 1.0.0
// guid: 0b7e4d29-5f1a-4c83-9e62-3a8d1f6c0b95

package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned for provider ids with no adapter.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrProviderPaused is returned when a pass is requested for a paused
	// provider. ResumeProvider clears it.
	ErrProviderPaused = errors.New("provider is paused")
	// ErrProviderDisabled is returned for providers disabled in config.
	ErrProviderDisabled = errors.New("provider is disabled")
	// ErrAlreadyRunning is returned by RunPass while another pass of the
	// same provider is in flight.
	ErrAlreadyRunning = errors.New("sync pass already running")
)

// CommitError is a failed page commit. The page's cursor was not advanced,
// so the next pass replays the page.
type CommitError struct {
	Provider string
	Cursor   string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of page after cursor %q for %s failed: %v", e.Cursor, e.Provider, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// ItemError describes why a single delta item was skipped.
type ItemError struct {
	RemoteID string
	Stage    string
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.RemoteID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
