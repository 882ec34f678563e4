package monzo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/monzo-etl/internal/logger"
	"github.com/dvloznov/monzo-etl/internal/secrets"
)

// newTestAPI builds a Monzo stub that serves the token endpoint plus the
// given data handlers, and a seeded credential store.
func newTestAPI(t *testing.T, handlers map[string]http.HandlerFunc) (*httptest.Server, *secrets.MemoryStore) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "test-access",
			"refresh_token": "test-refresh",
			"expires_in":    14400,
		})
	})
	for path, h := range handlers {
		mux.HandleFunc(path, h)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := seedStore(t, "seed-refresh", time.Now().Add(-time.Hour))
	return srv, store
}

func TestNewClient_MissingAccountID(t *testing.T) {
	store := secrets.NewMemoryStore()
	ctx := context.Background()
	store.SaveCredentials(ctx, &secrets.Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh",
	})

	_, err := NewClient(ctx, store, "http://unused", nil, logger.Nop())
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("NewClient = %v, want ErrMissingCredentials", err)
	}
}

func TestNewClient_EagerTokenFailure(t *testing.T) {
	// Credentials exist but no token record was ever stored: construction
	// must fail, not the first API call.
	store := secrets.NewMemoryStore()
	ctx := context.Background()
	store.SaveCredentials(ctx, &secrets.Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AccountID:    "acc_0001",
		RefreshToken: "refresh",
	})

	_, err := NewClient(ctx, store, "http://unused", nil, logger.Nop())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("NewClient = %v, want ErrUnauthenticated", err)
	}
}

func TestGetTransactions_FlattensNestedPayload(t *testing.T) {
	srv, store := newTestAPI(t, map[string]http.HandlerFunc{
		"/transactions": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if got := q.Get("account_id"); got != "acc_0001" {
				t.Errorf("account_id = %q", got)
			}
			if got := q.Get("expand[]"); got != "merchant" {
				t.Errorf("expand[] = %q", got)
			}
			if got := q.Get("limit"); got != "200" {
				t.Errorf("limit = %q, want default 200", got)
			}
			if q.Get("since") == "" {
				t.Error("expected since filter")
			}

			w.Write([]byte(`{"transactions": [
				{
					"id": "tx_0001",
					"description": "COFFEE SHOP",
					"amount": -350,
					"currency": "GBP",
					"created": "2025-05-20T09:15:00Z",
					"settled": "2025-05-21T02:00:00Z",
					"category": "eating_out",
					"is_load": false,
					"local_amount": -350,
					"local_currency": "GBP",
					"counterparty": {"name": "Coffee Ltd", "account_number": "12345678", "sort_code": "040004"},
					"merchant": {
						"id": "merch_01",
						"name": "Coffee Shop",
						"category": "eating_out",
						"emoji": "C",
						"online": false,
						"atm": false,
						"address": {
							"address": "1 High St",
							"city": "London",
							"postcode": "E1 6AN",
							"country": "GBR",
							"latitude": 51.51,
							"longitude": -0.07
						},
						"metadata": {
							"google_places_id": "gp_123",
							"suggested_tags": "#coffee #food",
							"foursquare_id": "fsq_123",
							"website": "https://coffee.example"
						}
					}
				},
				{
					"id": "tx_0002",
					"amount": 10000,
					"currency": "GBP",
					"created": "2025-05-21T10:00:00Z",
					"category": "income",
					"is_load": false
				}
			]}`))
		},
	})

	client, err := NewClient(context.Background(), store, srv.URL, nil, logger.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	txs, err := client.GetTransactions(context.Background(), TransactionOpts{Since: &since})
	if err != nil {
		t.Fatalf("GetTransactions failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}

	withMerchant := txs[0]
	if withMerchant.MerchantName != "Coffee Shop" {
		t.Errorf("MerchantName = %q", withMerchant.MerchantName)
	}
	if withMerchant.MerchantCity != "London" {
		t.Errorf("MerchantCity = %q", withMerchant.MerchantCity)
	}
	if withMerchant.MerchantLatitude == nil || *withMerchant.MerchantLatitude != 51.51 {
		t.Errorf("MerchantLatitude = %v", withMerchant.MerchantLatitude)
	}
	if withMerchant.MerchantSuggestedTags != "#coffee #food" {
		t.Errorf("MerchantSuggestedTags = %q", withMerchant.MerchantSuggestedTags)
	}
	if withMerchant.CounterpartySortCode != "040004" {
		t.Errorf("CounterpartySortCode = %q", withMerchant.CounterpartySortCode)
	}
	if withMerchant.Settled == nil {
		t.Error("Settled should be set")
	}

	// Missing merchant object: every merchant field keeps its zero value,
	// no missing-key error.
	noMerchant := txs[1]
	if noMerchant.MerchantID != "" || noMerchant.MerchantName != "" ||
		noMerchant.MerchantCategory != "" || noMerchant.MerchantLogo != "" ||
		noMerchant.MerchantEmoji != "" || noMerchant.MerchantOnline ||
		noMerchant.MerchantATM || noMerchant.MerchantAddress != "" ||
		noMerchant.MerchantCity != "" || noMerchant.MerchantPostcode != "" ||
		noMerchant.MerchantCountry != "" || noMerchant.MerchantLatitude != nil ||
		noMerchant.MerchantLongitude != nil || noMerchant.MerchantGooglePlacesID != "" ||
		noMerchant.MerchantSuggestedTags != "" || noMerchant.MerchantFoursquareID != "" ||
		noMerchant.MerchantWebsite != "" {
		t.Errorf("merchant fields not zero-valued: %+v", noMerchant)
	}
	if noMerchant.Settled != nil {
		t.Error("Settled should be nil until cleared")
	}
}

func TestGetTransactions_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"transactions": [{"amount": -1, "currency": "GBP", "created": "2025-05-20T09:15:00Z"}]}`},
		{"missing amount", `{"transactions": [{"id": "tx_1", "currency": "GBP", "created": "2025-05-20T09:15:00Z"}]}`},
		{"missing currency", `{"transactions": [{"id": "tx_1", "amount": -1, "created": "2025-05-20T09:15:00Z"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := newTestAPI(t, map[string]http.HandlerFunc{
				"/transactions": func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(tt.body))
				},
			})

			client, err := NewClient(context.Background(), store, srv.URL, nil, logger.Nop())
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}

			if _, err := client.GetTransactions(context.Background(), TransactionOpts{}); err == nil {
				t.Error("expected decode error for missing required field")
			}
		})
	}
}

func TestGetBalance_NormalizesSpendToday(t *testing.T) {
	srv, store := newTestAPI(t, map[string]http.HandlerFunc{
		"/balance": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"balance": 5000, "total_balance": 12000, "currency": "GBP", "spend_today": -730}`))
		},
	})

	client, err := NewClient(context.Background(), store, srv.URL, nil, logger.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.SpendToday != 730 {
		t.Errorf("SpendToday = %d, want 730", balance.SpendToday)
	}
	if balance.TotalBalance != 12000 {
		t.Errorf("TotalBalance = %d", balance.TotalBalance)
	}
}

func TestListPots(t *testing.T) {
	srv, store := newTestAPI(t, map[string]http.HandlerFunc{
		"/pots": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("current_account_id"); got != "acc_0001" {
				t.Errorf("current_account_id = %q", got)
			}
			w.Write([]byte(`{"pots": [
				{"id": "pot_01", "style": "beach_ball", "balance": 2500, "currency": "GBP",
				 "type": "default", "created": "2024-01-01T00:00:00Z", "updated": "2025-05-01T00:00:00Z",
				 "round_up": true, "deleted": false, "locked": false}
			]}`))
		},
	})

	client, err := NewClient(context.Background(), store, srv.URL, nil, logger.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	pots, err := client.ListPots(context.Background())
	if err != nil {
		t.Fatalf("ListPots failed: %v", err)
	}
	if len(pots) != 1 {
		t.Fatalf("got %d pots, want 1", len(pots))
	}
	if pots[0].ID != "pot_01" || !pots[0].RoundUp || pots[0].Balance != 2500 {
		t.Errorf("pot = %+v", pots[0])
	}
}

func TestGet_Non200(t *testing.T) {
	srv, store := newTestAPI(t, map[string]http.HandlerFunc{
		"/balance": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})

	client, err := NewClient(context.Background(), store, srv.URL, nil, logger.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.GetBalance(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetBalance = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
	}
}
