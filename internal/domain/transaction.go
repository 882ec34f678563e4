package domain

import (
	"time"
)

// Transaction is one flattened Monzo transaction in the bronze shape.
// This is a domain struct, not a database row; the loader maps it into the
// bronze_transactions table schema. Merchant and counterparty objects from
// the API are flattened at the decode boundary, so a transaction without a
// merchant simply carries zero-valued Merchant* fields.
type Transaction struct {
	ID            string // natural key, immutable once settled by Monzo
	Description   string
	Amount        int64 // minor units; negative = spend
	Currency      string
	Created       time.Time
	Category      string
	Notes         string
	IsLoad        bool
	Settled       *time.Time // nil until the transaction clears
	LocalAmount   int64
	LocalCurrency string

	CounterpartyName       string
	CounterpartyAccountNum string
	CounterpartySortCode   string

	MerchantID             string
	MerchantName           string
	MerchantCategory       string
	MerchantLogo           string
	MerchantEmoji          string
	MerchantOnline         bool
	MerchantATM            bool
	MerchantAddress        string
	MerchantCity           string
	MerchantPostcode       string
	MerchantCountry        string
	MerchantLatitude       *float64
	MerchantLongitude      *float64
	MerchantGooglePlacesID string
	MerchantSuggestedTags  string // JSON-encoded list, as returned by the API
	MerchantFoursquareID   string
	MerchantWebsite        string
}

// Balance is one account balance snapshot. Snapshots are append-only; every
// run inserts a new row.
type Balance struct {
	Balance      int64 // minor units
	TotalBalance int64
	Currency     string
	SpendToday   int64 // normalized to >= 0 at the decode boundary
}

// Pot is one savings pot snapshot. Like Balance, pots are re-inserted on
// every run rather than deduplicated.
type Pot struct {
	ID                string
	Style             string
	Balance           int64
	Currency          string
	Type              string
	ProductID         string
	CurrentAccountID  string
	CoverImageURL     string
	ISAWrapper        bool
	RoundUp           bool
	RoundUpMultiplier int64
	IsTaxPot          bool
	Created           time.Time
	Updated           time.Time
	Deleted           bool
	Locked            bool
	AvailableForBills bool
	HasVirtualCards   bool
}

// Extraction is the result of one full pull from the Monzo API. It is
// all-or-nothing: a failed balance or pots call discards the transactions
// too, so the loader never sees a partial extraction.
type Extraction struct {
	Transactions []Transaction
	Balance      *Balance
	Pots         []Pot
	RetrievedAt  time.Time
}
