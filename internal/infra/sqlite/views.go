package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/civil"
)

// Readback types for the dashboard boundary. Monetary values here are major
// units (pounds), already divided by 100 in the view SQL.

// CategorySpend is one row of category_spending_summary, ordered by
// total_spend descending.
type CategorySpend struct {
	Category         string
	TransactionCount int64
	TotalSpend       float64
	AvgTransaction   float64
}

// CategorySpending reads the category spending ranking.
func CategorySpending(ctx context.Context, db *sql.DB) ([]CategorySpend, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT category, transaction_count, total_spend, avg_transaction_value
		FROM category_spending_summary`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query category_spending_summary: %w", err)
	}
	defer rows.Close()

	var result []CategorySpend
	for rows.Next() {
		var row CategorySpend
		var category sql.NullString
		if err := rows.Scan(&category, &row.TransactionCount, &row.TotalSpend, &row.AvgTransaction); err != nil {
			return nil, fmt.Errorf("sqlite: scan category_spending_summary: %w", err)
		}
		row.Category = category.String
		result = append(result, row)
	}
	return result, rows.Err()
}

// DailySummaryRow is one row of daily_transactions_summary.
type DailySummaryRow struct {
	Date            civil.Date
	NumTransactions int64
	TotalSpend      float64
	TotalIncome     float64
}

// DailySummary reads the per-day spend/income summary, newest day first.
func DailySummary(ctx context.Context, db *sql.DB) ([]DailySummaryRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT transaction_date, num_transactions, total_spend, total_income
		FROM daily_transactions_summary`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query daily_transactions_summary: %w", err)
	}
	defer rows.Close()

	var result []DailySummaryRow
	for rows.Next() {
		var row DailySummaryRow
		var dateStr string
		if err := rows.Scan(&dateStr, &row.NumTransactions, &row.TotalSpend, &row.TotalIncome); err != nil {
			return nil, fmt.Errorf("sqlite: scan daily_transactions_summary: %w", err)
		}
		date, err := civil.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse transaction_date %q: %w", dateStr, err)
		}
		row.Date = date
		result = append(result, row)
	}
	return result, rows.Err()
}
