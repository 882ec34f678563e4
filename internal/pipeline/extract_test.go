package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/monzo-etl/internal/domain"
	"github.com/dvloznov/monzo-etl/internal/logger"
	"github.com/dvloznov/monzo-etl/internal/monzo"
)

type mockBank struct {
	getTransactions func(ctx context.Context, opts monzo.TransactionOpts) ([]domain.Transaction, error)
	getBalance      func(ctx context.Context) (*domain.Balance, error)
	listPots        func(ctx context.Context) ([]domain.Pot, error)
}

func (m *mockBank) GetTransactions(ctx context.Context, opts monzo.TransactionOpts) ([]domain.Transaction, error) {
	return m.getTransactions(ctx, opts)
}

func (m *mockBank) GetBalance(ctx context.Context) (*domain.Balance, error) {
	return m.getBalance(ctx)
}

func (m *mockBank) ListPots(ctx context.Context) ([]domain.Pot, error) {
	return m.listPots(ctx)
}

func healthyBank() *mockBank {
	return &mockBank{
		getTransactions: func(ctx context.Context, opts monzo.TransactionOpts) ([]domain.Transaction, error) {
			return []domain.Transaction{{ID: "tx_0001", Amount: -500, Currency: "GBP", Created: time.Now()}}, nil
		},
		getBalance: func(ctx context.Context) (*domain.Balance, error) {
			return &domain.Balance{Balance: 5000, Currency: "GBP"}, nil
		},
		listPots: func(ctx context.Context) ([]domain.Pot, error) {
			return []domain.Pot{{ID: "pot_01", Balance: 2500, Currency: "GBP"}}, nil
		},
	}
}

func TestExtract_ComputesLookbackWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var gotSince *time.Time

	bank := healthyBank()
	bank.getTransactions = func(ctx context.Context, opts monzo.TransactionOpts) ([]domain.Transaction, error) {
		gotSince = opts.Since
		return nil, nil
	}

	e := NewExtractor(bank, logger.Nop())
	e.now = func() time.Time { return now }

	ex, err := e.Extract(context.Background(), 30)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if gotSince == nil {
		t.Fatal("expected a since filter")
	}
	want := now.AddDate(0, 0, -30)
	if !gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", gotSince, want)
	}
	if !ex.RetrievedAt.Equal(now) {
		t.Errorf("RetrievedAt = %v, want %v", ex.RetrievedAt, now)
	}
}

func TestExtract_AllOrNothing(t *testing.T) {
	apiErr := errors.New("api down")

	tests := []struct {
		name   string
		mutate func(b *mockBank)
	}{
		{"transactions fail", func(b *mockBank) {
			b.getTransactions = func(ctx context.Context, opts monzo.TransactionOpts) ([]domain.Transaction, error) {
				return nil, apiErr
			}
		}},
		{"balance fails", func(b *mockBank) {
			b.getBalance = func(ctx context.Context) (*domain.Balance, error) { return nil, apiErr }
		}},
		{"pots fail", func(b *mockBank) {
			b.listPots = func(ctx context.Context) ([]domain.Pot, error) { return nil, apiErr }
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank := healthyBank()
			tt.mutate(bank)

			e := NewExtractor(bank, logger.Nop())
			ex, err := e.Extract(context.Background(), 30)
			if !errors.Is(err, apiErr) {
				t.Fatalf("err = %v, want wrapped api error", err)
			}
			if ex != nil {
				t.Error("a partial extraction must not be returned")
			}
		})
	}
}

func TestExtract_AssemblesSnapshot(t *testing.T) {
	e := NewExtractor(healthyBank(), logger.Nop())

	ex, err := e.Extract(context.Background(), 7)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(ex.Transactions) != 1 || ex.Balance == nil || len(ex.Pots) != 1 {
		t.Errorf("snapshot incomplete: %d txs, balance=%v, %d pots",
			len(ex.Transactions), ex.Balance, len(ex.Pots))
	}
}
