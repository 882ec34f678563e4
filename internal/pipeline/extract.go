package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/monzo-etl/internal/domain"
	"github.com/dvloznov/monzo-etl/internal/monzo"
)

// BankClient is the slice of the Monzo API the extractor needs.
type BankClient interface {
	GetTransactions(ctx context.Context, opts monzo.TransactionOpts) ([]domain.Transaction, error)
	GetBalance(ctx context.Context) (*domain.Balance, error)
	ListPots(ctx context.Context) ([]domain.Pot, error)
}

// Extractor pulls one full snapshot from the bank: transactions for the
// lookback window plus current balance and pots. Extraction is all-or-nothing;
// a partial snapshot never reaches the loader.
type Extractor struct {
	client BankClient
	log    zerolog.Logger
	now    func() time.Time
}

// NewExtractor creates an Extractor over a bank client.
func NewExtractor(client BankClient, log zerolog.Logger) *Extractor {
	return &Extractor{client: client, log: log, now: time.Now}
}

// Extract fetches transactions since now minus daysBack days, along with the
// balance and pot snapshots. Any failure aborts the whole extraction.
func (e *Extractor) Extract(ctx context.Context, daysBack int) (*domain.Extraction, error) {
	since := e.now().UTC().AddDate(0, 0, -daysBack)

	txs, err := e.client.GetTransactions(ctx, monzo.TransactionOpts{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("extract transactions: %w", err)
	}

	balance, err := e.client.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract balance: %w", err)
	}

	pots, err := e.client.ListPots(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract pots: %w", err)
	}

	e.log.Info().
		Int("transactions", len(txs)).
		Int("pots", len(pots)).
		Time("since", since).
		Msg("extraction complete")

	return &domain.Extraction{
		Transactions: txs,
		Balance:      balance,
		Pots:         pots,
		RetrievedAt:  e.now().UTC(),
	}, nil
}
