package fetch

import (
	"errors"
	"fmt"
)

// ErrRobotsDisallowed is returned when robots.txt forbids fetching a URL.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// Error is returned when a fetch gives up: either retries were exhausted
// on a transient failure, or the server answered with a non-retryable
// client error.
type Error struct {
	URL        string
	StatusCode int // last observed status, 0 if the request never completed
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v",
			e.URL, e.StatusCode, e.Attempts, e.Err)
	}

	return fmt.Sprintf("fetch %s: %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// statusError carries an HTTP status through the retry loop.
type statusError struct {
	statusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d", e.statusCode)
}
