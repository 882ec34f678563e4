package monzo

import (
	"errors"
	"fmt"
)

// Terminal authentication failures. Both require a human to redo the
// out-of-band authorization-code exchange; re-running the pipeline will not
// recover them.
var (
	// ErrUnauthenticated: no token record has ever been stored.
	ErrUnauthenticated = errors.New("monzo: not authenticated, complete the OAuth flow first")

	// ErrReauthRequired: the refresh token was invalidated externally
	// (Monzo evicts refresh tokens when a login happens elsewhere).
	ErrReauthRequired = errors.New("monzo: session expired due to a login elsewhere, re-authorization required")

	// ErrMissingCredentials: client id or account id absent from the
	// credential store at client construction time.
	ErrMissingCredentials = errors.New("monzo: missing credentials")
)

// evictedRefreshTokenCode is the provider error code signalling that the
// refresh token was rotated away by a concurrent login.
const evictedRefreshTokenCode = "unauthorized.bad_refresh_token.evicted"

// RefreshError is a non-terminal token refresh failure. It carries the
// provider's status and body for diagnostics; re-running the pipeline may
// succeed.
type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("monzo: token refresh failed with status %d: %s", e.StatusCode, e.Body)
}

// APIError is a non-200 response from a data endpoint.
type APIError struct {
	StatusCode int
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("monzo: %s returned status %d", e.Endpoint, e.StatusCode)
}
