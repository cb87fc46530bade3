package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
)

// ErrCatalog marks transport/auth failures from the catalog provider.
// "Nothing matched" is never an error; callers get a nil match instead.
var ErrCatalog = errors.New("catalog error")

// StatusError carries the provider's HTTP status and, for rate limiting,
// its Retry-After hint so the orchestrator can back off precisely.
type StatusError struct {
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog error: HTTP %d: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return ErrCatalog }

func (e *StatusError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is a provider rate-limit response.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.RateLimited()
}

// RetryAfterHint extracts the provider's retry-after duration, 0 if absent.
func RetryAfterHint(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// classifyErr wraps a spotify client error into a StatusError so callers
// can distinguish rate limiting and auth failure from plain transport
// trouble without importing the provider library.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var se spotify.Error
	if errors.As(err, &se) {
		// The client library does not surface the Retry-After header, so
		// RetryAfter stays zero and callers fall back to exponential delays.
		return &StatusError{Status: se.Status, Err: err}
	}
	return fmt.Errorf("%w: %v", ErrCatalog, err)
}
