package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means no credential is stored for (user, provider).
	// Surfaced to the end user as a re-authenticate prompt; the item is skipped.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenRefreshFailed means a 401 was received and the refresh-token
	// flow could not produce a new access token.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// ErrNotFound means the tracker has no entity for the requested ID.
	ErrNotFound = errors.New("anime not found")
)

// APIError is a terminal non-2xx tracker response (other than 401/429).
// It is logged with status and body and never retried.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.Status, e.Body)
}
