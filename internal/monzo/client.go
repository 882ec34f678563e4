package monzo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/monzo-etl/internal/domain"
	"github.com/dvloznov/monzo-etl/internal/secrets"
)

// DefaultTransactionLimit is the page size requested from /transactions.
const DefaultTransactionLimit = 200

// Client is a typed wrapper over the Monzo REST API. Construction is eager:
// it loads the account id and a valid bearer token up front and fails fast
// when either is unavailable. The token is cached for the life of the client;
// a run is assumed shorter than the token's remaining lifetime.
type Client struct {
	baseURL     string
	accountID   string
	accessToken string
	httpc       *http.Client
	log         zerolog.Logger
}

// NewClient builds a Client against the given credential store. httpc may be
// nil (http.DefaultClient). Returns ErrMissingCredentials when the stored
// credentials have no client id or account id, and any token manager failure
// verbatim.
func NewClient(ctx context.Context, store secrets.Store, baseURL string, httpc *http.Client, log zerolog.Logger) (*Client, error) {
	if httpc == nil {
		httpc = http.DefaultClient
	}

	creds, err := store.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("monzo: load credentials: %w", err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client id and secret are required", ErrMissingCredentials)
	}
	if creds.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrMissingCredentials)
	}

	tm := NewTokenManager(store, baseURL, httpc, log)
	token, err := tm.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accountID:   creds.AccountID,
		accessToken: token,
		httpc:       httpc,
		log:         log,
	}, nil
}

// TransactionOpts filters a GetTransactions call. A zero Limit means
// DefaultTransactionLimit; Since/Before are optional.
type TransactionOpts struct {
	Limit  int
	Since  *time.Time
	Before *time.Time
}

// GetTransactions fetches transactions with merchant expansion and flattens
// them into the bronze shape.
func (c *Client) GetTransactions(ctx context.Context, opts TransactionOpts) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}

	params := url.Values{
		"account_id": {c.accountID},
		"limit":      {strconv.Itoa(limit)},
		"expand[]":   {"merchant"},
	}
	if opts.Since != nil {
		params.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Before != nil {
		params.Set("before", opts.Before.UTC().Format(time.RFC3339))
	}

	var resp transactionsResponse
	if err := c.get(ctx, "/transactions", params, &resp); err != nil {
		return nil, err
	}

	transactions := make([]domain.Transaction, 0, len(resp.Transactions))
	for i := range resp.Transactions {
		tx, err := resp.Transactions[i].flatten()
		if err != nil {
			return nil, fmt.Errorf("monzo: decode transactions: %w", err)
		}
		transactions = append(transactions, tx)
	}

	c.log.Debug().Int("count", len(transactions)).Msg("fetched transactions")
	return transactions, nil
}

// GetBalance fetches the current balance snapshot. spend_today comes back
// negative from the API on spend days and is normalized to its absolute
// value here.
func (c *Client) GetBalance(ctx context.Context) (*domain.Balance, error) {
	params := url.Values{"account_id": {c.accountID}}

	var resp balanceResponse
	if err := c.get(ctx, "/balance", params, &resp); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// ListPots fetches the current snapshot of every pot on the account.
func (c *Client) ListPots(ctx context.Context) ([]domain.Pot, error) {
	params := url.Values{"current_account_id": {c.accountID}}

	var resp potsResponse
	if err := c.get(ctx, "/pots", params, &resp); err != nil {
		return nil, err
	}

	pots := make([]domain.Pot, 0, len(resp.Pots))
	for i := range resp.Pots {
		pot, err := resp.Pots[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("monzo: decode pots: %w", err)
		}
		pots = append(pots, pot)
	}
	return pots, nil
}

// WhoAmI verifies authentication. Diagnostic only, not on the extraction
// path.
func (c *Client) WhoAmI(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.get(ctx, "/ping/whoami", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Account is one entry from /accounts.
type Account struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ListAccounts lists the accounts visible to the token. Diagnostic only.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var resp struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.get(ctx, "/accounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("monzo: build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("monzo: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("monzo: decode %s response: %w", endpoint, err)
	}
	return nil
}
