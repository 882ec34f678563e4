package monzo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/monzo-etl/internal/secrets"
)

// defaultExpiresIn is used when the token response omits expires_in.
const defaultExpiresIn = 14400 * time.Second

// TokenManager guarantees a non-expired bearer token before any API call.
// It refreshes unconditionally on every GetValidToken call: one extra round
// trip per run buys correctness against refresh tokens rotated by a second
// client, since the credential store is always re-read immediately before
// the refresh request.
type TokenManager struct {
	store   secrets.Store
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
	now     func() time.Time
}

// NewTokenManager creates a TokenManager. httpc may be nil, in which case
// http.DefaultClient is used.
func NewTokenManager(store secrets.Store, baseURL string, httpc *http.Client, log zerolog.Logger) *TokenManager {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &TokenManager{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		log:     log,
		now:     time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type tokenErrorResponse struct {
	Code string `json:"code"`
}

// GetValidToken returns a fresh access token, persisting the new token
// record and the rotated refresh token back to the credential store.
//
// Failure modes: ErrUnauthenticated when no token record exists,
// ErrReauthRequired when the refresh token was evicted, *RefreshError on any
// other provider failure.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	if _, err := m.store.Token(ctx); err != nil {
		if err == secrets.ErrTokenNotFound {
			return "", fmt.Errorf("%w: no stored token record", ErrUnauthenticated)
		}
		return "", fmt.Errorf("monzo: load token record: %w", err)
	}

	// The credential store, not the stored token record, is the source of
	// truth for the refresh token: a prior refresh may have rotated it.
	creds, err := m.store.Credentials(ctx)
	if err != nil {
		return "", fmt.Errorf("monzo: load credentials: %w", err)
	}
	if creds.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token in credential store", ErrReauthRequired)
	}

	tokens, err := m.refresh(ctx, creds)
	if err != nil {
		return "", err
	}

	// Monzo may keep the old refresh token valid and omit it from the
	// response; persist the prior one in that case.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = creds.RefreshToken
	}

	expiresIn := defaultExpiresIn
	if tokens.ExpiresIn > 0 {
		expiresIn = time.Duration(tokens.ExpiresIn) * time.Second
	}

	now := m.now().UTC()
	rec := &secrets.TokenRecord{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    now.Add(expiresIn),
		UpdatedAt:    now,
	}
	if err := m.store.SaveToken(ctx, rec); err != nil {
		return "", fmt.Errorf("monzo: persist token record: %w", err)
	}

	creds.RefreshToken = tokens.RefreshToken
	if err := m.store.SaveCredentials(ctx, creds); err != nil {
		return "", fmt.Errorf("monzo: persist rotated refresh token: %w", err)
	}

	m.log.Debug().Time("expires_at", rec.ExpiresAt).Msg("access token refreshed")
	return tokens.AccessToken, nil
}

func (m *TokenManager) refresh(ctx context.Context, creds *secrets.Credentials) (*tokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"refresh_token": {creds.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("monzo: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monzo: token refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("monzo: read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var providerErr tokenErrorResponse
		if json.Unmarshal(body, &providerErr) == nil && providerErr.Code == evictedRefreshTokenCode {
			return nil, ErrReauthRequired
		}
		return nil, &RefreshError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("monzo: decode refresh response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Body: "response missing access_token"}
	}
	return &tokens, nil
}
