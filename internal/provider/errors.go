// file: internal/provider/errors.go
// version: 1.0.0
// guid: c82e3b94-2ab9-469d-a2ed-16a28525b03d

package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthExpired means the provider rejected our credentials. Retrying
	// cannot help; the provider is paused until re-authorized.
	ErrAuthExpired = errors.New("provider authorization expired")
	// ErrNotFound means the remote file no longer exists.
	ErrNotFound = errors.New("remote item not found")
	// ErrCursorExpired means the provider no longer accepts the cursor and
	// the stream must restart from a full enumeration.
	ErrCursorExpired = errors.New("provider cursor expired")
)

// RateLimitedError asks the caller to back off. RetryAfter is zero when the
// provider gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	return "provider rate limited"
}

// NetworkError is a transient transport or server failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var rl *RateLimitedError
	var ne *NetworkError
	return errors.As(err, &rl) || errors.As(err, &ne)
}

// RetryAfter returns the provider's back-off hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
