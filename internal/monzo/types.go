package monzo

import (
	"fmt"
	"time"

	"github.com/dvloznov/monzo-etl/internal/domain"
)

// Wire shapes for the Monzo API. Decoding happens here and nowhere else:
// required fields (id, amount, currency) fail fast, everything nested is
// flattened into the domain structs with zero-valued defaults.

type transactionsResponse struct {
	Transactions []rawTransaction `json:"transactions"`
}

type rawTransaction struct {
	ID            string           `json:"id"`
	Description   string           `json:"description"`
	Amount        *int64           `json:"amount"`
	Currency      string           `json:"currency"`
	Created       string           `json:"created"`
	Category      string           `json:"category"`
	Notes         string           `json:"notes"`
	IsLoad        bool             `json:"is_load"`
	Settled       string           `json:"settled"`
	LocalAmount   int64            `json:"local_amount"`
	LocalCurrency string           `json:"local_currency"`
	Counterparty  *rawCounterparty `json:"counterparty"`
	Merchant      *rawMerchant     `json:"merchant"`
}

type rawCounterparty struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	SortCode      string `json:"sort_code"`
}

type rawMerchant struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Category string              `json:"category"`
	Logo     string              `json:"logo"`
	Emoji    string              `json:"emoji"`
	Online   bool                `json:"online"`
	ATM      bool                `json:"atm"`
	Address  *rawMerchantAddress `json:"address"`
	Metadata map[string]string   `json:"metadata"`
}

type rawMerchantAddress struct {
	Address   string   `json:"address"`
	City      string   `json:"city"`
	Postcode  string   `json:"postcode"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type balanceResponse struct {
	Balance      int64  `json:"balance"`
	TotalBalance int64  `json:"total_balance"`
	Currency     string `json:"currency"`
	SpendToday   int64  `json:"spend_today"`
}

type potsResponse struct {
	Pots []rawPot `json:"pots"`
}

type rawPot struct {
	ID                string `json:"id"`
	Style             string `json:"style"`
	Balance           int64  `json:"balance"`
	Currency          string `json:"currency"`
	Type              string `json:"type"`
	ProductID         string `json:"product_id"`
	CurrentAccountID  string `json:"current_account_id"`
	CoverImageURL     string `json:"cover_image_url"`
	ISAWrapper        bool   `json:"isa_wrapper"`
	RoundUp           bool   `json:"round_up"`
	RoundUpMultiplier int64  `json:"round_up_multiplier"`
	IsTaxPot          bool   `json:"is_tax_pot"`
	Created           string `json:"created"`
	Updated           string `json:"updated"`
	Deleted           bool   `json:"deleted"`
	Locked            bool   `json:"locked"`
	AvailableForBills bool   `json:"available_for_bills"`
	HasVirtualCards   bool   `json:"has_virtual_cards"`
}

// flatten turns a raw transaction into the bronze domain shape. Merchant and
// counterparty objects may be absent; every one of their fields then keeps
// its zero value rather than producing an error.
func (rt *rawTransaction) flatten() (domain.Transaction, error) {
	var tx domain.Transaction

	if rt.ID == "" {
		return tx, fmt.Errorf("transaction missing required field %q", "id")
	}
	if rt.Amount == nil {
		return tx, fmt.Errorf("transaction %s missing required field %q", rt.ID, "amount")
	}
	if rt.Currency == "" {
		return tx, fmt.Errorf("transaction %s missing required field %q", rt.ID, "currency")
	}

	created, err := parseAPITime(rt.Created)
	if err != nil {
		return tx, fmt.Errorf("transaction %s: invalid created %q: %w", rt.ID, rt.Created, err)
	}

	tx = domain.Transaction{
		ID:            rt.ID,
		Description:   rt.Description,
		Amount:        *rt.Amount,
		Currency:      rt.Currency,
		Created:       created,
		Category:      rt.Category,
		Notes:         rt.Notes,
		IsLoad:        rt.IsLoad,
		LocalAmount:   rt.LocalAmount,
		LocalCurrency: rt.LocalCurrency,
	}

	if rt.Settled != "" {
		settled, err := parseAPITime(rt.Settled)
		if err != nil {
			return tx, fmt.Errorf("transaction %s: invalid settled %q: %w", rt.ID, rt.Settled, err)
		}
		tx.Settled = &settled
	}

	if cp := rt.Counterparty; cp != nil {
		tx.CounterpartyName = cp.Name
		tx.CounterpartyAccountNum = cp.AccountNumber
		tx.CounterpartySortCode = cp.SortCode
	}

	if m := rt.Merchant; m != nil {
		tx.MerchantID = m.ID
		tx.MerchantName = m.Name
		tx.MerchantCategory = m.Category
		tx.MerchantLogo = m.Logo
		tx.MerchantEmoji = m.Emoji
		tx.MerchantOnline = m.Online
		tx.MerchantATM = m.ATM

		if a := m.Address; a != nil {
			tx.MerchantAddress = a.Address
			tx.MerchantCity = a.City
			tx.MerchantPostcode = a.Postcode
			tx.MerchantCountry = a.Country
			tx.MerchantLatitude = a.Latitude
			tx.MerchantLongitude = a.Longitude
		}

		tx.MerchantGooglePlacesID = m.Metadata["google_places_id"]
		tx.MerchantSuggestedTags = m.Metadata["suggested_tags"]
		tx.MerchantFoursquareID = m.Metadata["foursquare_id"]
		tx.MerchantWebsite = m.Metadata["website"]
	}

	return tx, nil
}

func (rb *balanceResponse) toDomain() *domain.Balance {
	spendToday := rb.SpendToday
	if spendToday < 0 {
		spendToday = -spendToday
	}
	return &domain.Balance{
		Balance:      rb.Balance,
		TotalBalance: rb.TotalBalance,
		Currency:     rb.Currency,
		SpendToday:   spendToday,
	}
}

func (rp *rawPot) toDomain() (domain.Pot, error) {
	var pot domain.Pot

	if rp.ID == "" {
		return pot, fmt.Errorf("pot missing required field %q", "id")
	}

	created, err := parseAPITime(rp.Created)
	if err != nil {
		return pot, fmt.Errorf("pot %s: invalid created %q: %w", rp.ID, rp.Created, err)
	}
	updated, err := parseAPITime(rp.Updated)
	if err != nil {
		return pot, fmt.Errorf("pot %s: invalid updated %q: %w", rp.ID, rp.Updated, err)
	}

	return domain.Pot{
		ID:                rp.ID,
		Style:             rp.Style,
		Balance:           rp.Balance,
		Currency:          rp.Currency,
		Type:              rp.Type,
		ProductID:         rp.ProductID,
		CurrentAccountID:  rp.CurrentAccountID,
		CoverImageURL:     rp.CoverImageURL,
		ISAWrapper:        rp.ISAWrapper,
		RoundUp:           rp.RoundUp,
		RoundUpMultiplier: rp.RoundUpMultiplier,
		IsTaxPot:          rp.IsTaxPot,
		Created:           created,
		Updated:           updated,
		Deleted:           rp.Deleted,
		Locked:            rp.Locked,
		AvailableForBills: rp.AvailableForBills,
		HasVirtualCards:   rp.HasVirtualCards,
	}, nil
}

// parseAPITime parses Monzo's RFC3339 timestamps. Empty strings map to the
// zero time, not an error.
func parseAPITime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
