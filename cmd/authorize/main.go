// Command authorize runs the one-time OAuth authorization-code flow. It
// prints the Monzo authorization URL, waits for the browser redirect on a
// local callback server, exchanges the code for tokens and persists them in
// the credential store so that unattended ETL runs can refresh from there.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/monzo-etl/internal/config"
	"github.com/dvloznov/monzo-etl/internal/gcsstore"
	"github.com/dvloznov/monzo-etl/internal/logger"
	"github.com/dvloznov/monzo-etl/internal/secrets"
)

const (
	authBaseURL      = "https://auth.monzo.com"
	defaultListen    = "localhost:8000"
	defaultExpiresIn = 14400 // Monzo access tokens last 4 hours
)

func main() {
	envFile := flag.String("env", ".env", "path to dotenv file (missing file is ignored)")
	listen := flag.String("listen", defaultListen, "callback listen address; must match the app's redirect URI")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	blobs, err := gcsstore.New(ctx, cfg.Bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bucket client")
	}
	defer blobs.Close()

	store := secrets.NewGCSStore(blobs, cfg.CredentialsKey, cfg.TokenKey)

	creds, err := store.Credentials(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load credentials")
	}

	state := randomState()
	redirectURI := "http://" + *listen + "/callback"

	authURL := authBaseURL + "/?" + url.Values{
		"client_id":     {creds.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"state":         {state},
	}.Encode()

	fmt.Println("Open this URL in your browser to authorize:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()

	code, err := waitForCallback(ctx, *listen, state)
	if err != nil {
		log.Fatal().Err(err).Msg("authorization failed")
	}

	rec, refreshToken, err := exchangeCode(ctx, cfg.APIBaseURL, creds, redirectURI, code)
	if err != nil {
		log.Fatal().Err(err).Msg("code exchange failed")
	}

	if err := store.SaveToken(ctx, rec); err != nil {
		log.Fatal().Err(err).Msg("failed to persist token record")
	}
	creds.RefreshToken = refreshToken
	if err := store.SaveCredentials(ctx, creds); err != nil {
		log.Fatal().Err(err).Msg("failed to persist rotated refresh token")
	}

	log.Info().Time("expires_at", rec.ExpiresAt).Msg("token stored")
	fmt.Println("Authorization complete. Approve the access in the Monzo app, then run the ETL.")
}

// waitForCallback serves a one-shot HTTP server on addr until the OAuth
// redirect arrives, then returns the authorization code.
func waitForCallback(ctx context.Context, addr, wantState string) (string, error) {
	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != wantState {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			done <- result{err: errors.New("state mismatch in callback")}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			done <- result{err: errors.New("callback carried no authorization code")}
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "Authorization successful! You can close this window.")
		done <- result{code: code}
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	fmt.Printf("Waiting for callback on http://%s/callback ...\n", addr)

	select {
	case res := <-done:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for callback: %w", ctx.Err())
	}
}

// exchangeCode trades the authorization code for tokens and builds the record
// to persist.
func exchangeCode(ctx context.Context, apiBaseURL string, creds *secrets.Credentials, redirectURI, code string) (*secrets.TokenRecord, string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}

	endpoint := strings.TrimRight(apiBaseURL, "/") + "/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, "", errors.New("token response carried no access token")
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	now := time.Now().UTC()
	rec := &secrets.TokenRecord{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second),
		UpdatedAt:    now,
	}
	return rec, body.RefreshToken, nil
}

func randomState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
