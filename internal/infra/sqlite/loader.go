package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/monzo-etl/internal/domain"
)

// InsertResult is the outcome of a single transaction insert. Duplicates are
// an ordinary result, not an error: overlapping date-windowed pulls return
// the same transactions run after run.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

// LoadStats summarizes one load.
type LoadStats struct {
	TransactionsInserted int
	TransactionsSkipped  int
	PotsInserted         int
}

// Loader idempotently upserts an extraction into the bronze tables. All
// inserts for a run happen inside exactly one transaction: a failure rolls
// everything back, so no row can exist that wasn't part of a fully committed
// run.
type Loader struct {
	log zerolog.Logger
	now func() time.Time
}

// NewLoader creates a Loader.
func NewLoader(log zerolog.Logger) *Loader {
	return &Loader{log: log, now: time.Now}
}

// LoadData loads one extraction. Transactions are insert-only and
// deduplicated on their id; balance and pots are strictly append-only.
func (l *Loader) LoadData(ctx context.Context, db *sql.DB, ex *domain.Extraction) (*LoadStats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin load transaction: %w", err)
	}

	stats, err := l.loadInTx(ctx, tx, ex)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit load: %w", err)
	}

	l.log.Info().
		Int("transactions_inserted", stats.TransactionsInserted).
		Int("transactions_skipped", stats.TransactionsSkipped).
		Int("pots_inserted", stats.PotsInserted).
		Msg("load committed")
	return stats, nil
}

func (l *Loader) loadInTx(ctx context.Context, tx *sql.Tx, ex *domain.Extraction) (*LoadStats, error) {
	retrieved := ex.RetrievedAt
	if retrieved.IsZero() {
		retrieved = l.now().UTC()
	}

	stats := &LoadStats{}

	for i := range ex.Transactions {
		res, err := l.insertTransaction(ctx, tx, &ex.Transactions[i], retrieved)
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert transaction %s: %w", ex.Transactions[i].ID, err)
		}
		switch res {
		case Inserted:
			stats.TransactionsInserted++
		case AlreadyExists:
			l.log.Debug().Str("id", ex.Transactions[i].ID).Msg("transaction already exists, skipping")
			stats.TransactionsSkipped++
		}
	}

	if ex.Balance != nil {
		if err := l.insertBalance(ctx, tx, ex.Balance, retrieved); err != nil {
			return nil, fmt.Errorf("sqlite: insert balance: %w", err)
		}
	}

	for i := range ex.Pots {
		if err := l.insertPot(ctx, tx, &ex.Pots[i], retrieved); err != nil {
			return nil, fmt.Errorf("sqlite: insert pot %s: %w", ex.Pots[i].ID, err)
		}
		stats.PotsInserted++
	}

	return stats, nil
}

// insertTransaction inserts one transaction, relying on the primary key
// constraint for dedup: the constraint violation IS the already-exists
// signal, so there is no check-then-insert window.
func (l *Loader) insertTransaction(ctx context.Context, tx *sql.Tx, t *domain.Transaction, retrieved time.Time) (InsertResult, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bronze_transactions (
			id, description, amount, currency, created, category, notes,
			is_load, settled, local_amount, local_currency,
			counterparty_name, counterparty_account_num, counterparty_sort_code,
			merchant_id, merchant_name, merchant_category, merchant_logo,
			merchant_emoji, merchant_online, merchant_atm, merchant_address,
			merchant_city, merchant_postcode, merchant_country,
			merchant_latitude, merchant_longitude, merchant_google_places_id,
			merchant_suggested_tags, merchant_foursquare_id, merchant_website,
			date_retrieved
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)`,
		t.ID,
		t.Description,
		t.Amount,
		t.Currency,
		t.Created,
		t.Category,
		t.Notes,
		t.IsLoad,
		nullableTime(t.Settled),
		t.LocalAmount,
		t.LocalCurrency,
		t.CounterpartyName,
		t.CounterpartyAccountNum,
		t.CounterpartySortCode,
		t.MerchantID,
		t.MerchantName,
		t.MerchantCategory,
		t.MerchantLogo,
		t.MerchantEmoji,
		t.MerchantOnline,
		t.MerchantATM,
		t.MerchantAddress,
		t.MerchantCity,
		t.MerchantPostcode,
		t.MerchantCountry,
		nullableFloat(t.MerchantLatitude),
		nullableFloat(t.MerchantLongitude),
		t.MerchantGooglePlacesID,
		t.MerchantSuggestedTags,
		t.MerchantFoursquareID,
		t.MerchantWebsite,
		retrieved,
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) &&
			sqlErr.Code == sqlite3.ErrConstraint &&
			sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return AlreadyExists, nil
		}
		return 0, err
	}
	return Inserted, nil
}

func (l *Loader) insertBalance(ctx context.Context, tx *sql.Tx, b *domain.Balance, retrieved time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bronze_balance (
			balance, total_balance, currency, spend_today, date_retrieved
		) VALUES (?, ?, ?, ?, ?)`,
		b.Balance, b.TotalBalance, b.Currency, b.SpendToday, retrieved,
	)
	return err
}

func (l *Loader) insertPot(ctx context.Context, tx *sql.Tx, p *domain.Pot, retrieved time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bronze_pots (
			id, style, balance, currency, type, product_id,
			current_account_id, cover_image_url, isa_wrapper, round_up,
			round_up_multiplier, is_tax_pot, created, updated, deleted,
			locked, available_for_bills, has_virtual_cards, date_retrieved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Style,
		p.Balance,
		p.Currency,
		p.Type,
		p.ProductID,
		p.CurrentAccountID,
		p.CoverImageURL,
		p.ISAWrapper,
		p.RoundUp,
		p.RoundUpMultiplier,
		p.IsTaxPot,
		p.Created,
		p.Updated,
		p.Deleted,
		p.Locked,
		p.AvailableForBills,
		p.HasVirtualCards,
		retrieved,
	)
	return err
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
