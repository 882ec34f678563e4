// Package secrets holds the credential store adapter: one Credentials blob
// and one token record, both persisted outside the process so that rotated
// refresh tokens survive across unattended runs.
package secrets

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound reports that no token record has ever been stored. The
// token manager maps this to its unauthenticated failure: the out-of-band
// authorization-code exchange has not been completed yet.
var ErrTokenNotFound = errors.New("secrets: token record not found")

// ErrCredentialsNotFound reports that the credentials blob is absent.
var ErrCredentialsNotFound = errors.New("secrets: credentials not found")

// Credentials is the per-account secret blob. RefreshToken rotates on every
// successful refresh; the other fields are immutable for the life of a run.
type Credentials struct {
	ClientID     string `json:"monzo_client_id"`
	ClientSecret string `json:"monzo_client_secret"`
	AccountID    string `json:"monzo_account_id"`
	RefreshToken string `json:"monzo_refresh_token"`
}

// TokenRecord is the single "current" token record for the account. A record
// is valid iff now < ExpiresAt.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Valid reports whether the record's access token is still usable at now.
func (t *TokenRecord) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// Store is the credential store adapter. Implementations: GCSStore for real
// runs, MemoryStore for tests.
type Store interface {
	Credentials(ctx context.Context) (*Credentials, error)
	SaveCredentials(ctx context.Context, creds *Credentials) error
	Token(ctx context.Context) (*TokenRecord, error)
	SaveToken(ctx context.Context, rec *TokenRecord) error
}
