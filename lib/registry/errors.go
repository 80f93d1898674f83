package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable is returned once transient failures exhaust the retry budget.
	ErrUnreachable = errors.New("registry unreachable")
	// ErrAuth is returned when the registry rejects the configured credentials.
	ErrAuth = errors.New("registry authentication failed")
	// ErrNotFound is returned when a repository or tag does not exist.
	ErrNotFound = errors.New("registry resource not found")
	// ErrUnexpectedStatus is returned for any other non-success HTTP status.
	ErrUnexpectedStatus = errors.New("unexpected registry response")
	// ErrIncompleteListing is returned when pagination does not end within
	// the page limit. A partial listing is never returned.
	ErrIncompleteListing = errors.New("registry listing incomplete")
)

// StatusError carries the HTTP status and body of a failed registry call.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Unwrap maps the status onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case 401, 403:
		return ErrAuth
	case 404:
		return ErrNotFound
	default:
		return ErrUnexpectedStatus
	}
}
