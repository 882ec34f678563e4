package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// analyticsViews is the gold layer: read-optimized projections over the
// silver tables, dropped and recreated on every run. There is no incremental
// maintenance; correctness comes entirely from the view SQL.
var analyticsViews = []struct {
	name string
	sql  string
}{
	{
		name: "daily_transactions_summary",
		sql: `
			CREATE VIEW daily_transactions_summary AS
			SELECT
				date(created) AS transaction_date,
				COUNT(*) AS num_transactions,
				SUM(CASE WHEN amount < 0 THEN amount * -1 ELSE 0 END) / 100.0 AS total_spend,
				SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END) / 100.0 AS total_income,
				AVG(CASE WHEN amount < 0 THEN amount * -1 ELSE NULL END) / 100.0 AS avg_transaction_value,
				COUNT(CASE WHEN merchant_online = 1 THEN 1 END) AS online_transactions,
				COUNT(CASE WHEN merchant_atm = 1 THEN 1 END) AS atm_transactions
			FROM silver_transactions
			GROUP BY date(created)
			ORDER BY transaction_date DESC`,
	},
	{
		name: "category_spending_summary",
		sql: `
			CREATE VIEW category_spending_summary AS
			SELECT
				category,
				COUNT(*) AS transaction_count,
				SUM(CASE WHEN amount < 0 THEN amount * -1 ELSE 0 END) / 100.0 AS total_spend,
				AVG(CASE WHEN amount < 0 THEN amount * -1 ELSE NULL END) / 100.0 AS avg_transaction_value,
				MIN(created) AS first_transaction,
				MAX(created) AS last_transaction
			FROM silver_transactions
			WHERE amount < 0
			GROUP BY category
			ORDER BY total_spend DESC`,
	},
	{
		name: "merchant_spending_patterns",
		sql: `
			CREATE VIEW merchant_spending_patterns AS
			SELECT
				merchant_name,
				merchant_category,
				COUNT(*) AS visit_count,
				SUM(CASE WHEN amount < 0 THEN amount * -1 ELSE 0 END) / 100.0 AS total_spend,
				AVG(CASE WHEN amount < 0 THEN amount * -1 ELSE NULL END) / 100.0 AS avg_spend_per_visit,
				MIN(created) AS first_visit,
				MAX(created) AS last_visit,
				merchant_city,
				merchant_country,
				merchant_online
			FROM silver_transactions
			WHERE merchant_name IS NOT NULL
			AND amount < 0
			GROUP BY
				merchant_name,
				merchant_category,
				merchant_city,
				merchant_country,
				merchant_online
			HAVING visit_count > 1
			ORDER BY total_spend DESC`,
	},
	{
		name: "monthly_spending_trends",
		sql: `
			CREATE VIEW monthly_spending_trends AS
			SELECT
				strftime('%Y-%m', created) AS month,
				category,
				COUNT(*) AS transaction_count,
				SUM(CASE WHEN amount < 0 THEN amount * -1 ELSE 0 END) / 100.0 AS total_spend,
				AVG(CASE WHEN amount < 0 THEN amount * -1 ELSE NULL END) / 100.0 AS avg_transaction_value
			FROM silver_transactions
			WHERE amount < 0
			GROUP BY
				strftime('%Y-%m', created),
				category
			ORDER BY
				month DESC,
				total_spend DESC`,
	},
	{
		name: "location_spending",
		sql: `
			CREATE VIEW location_spending AS
			SELECT
				merchant_city,
				merchant_country,
				COUNT(*) AS transaction_count,
				COUNT(DISTINCT merchant_name) AS unique_merchants,
				SUM(CASE WHEN amount < 0 THEN amount * -1 ELSE 0 END) / 100.0 AS total_spend,
				AVG(CASE WHEN amount < 0 THEN amount * -1 ELSE NULL END) / 100.0 AS avg_transaction_value
			FROM silver_transactions
			WHERE merchant_city IS NOT NULL
			AND amount < 0
			GROUP BY
				merchant_city,
				merchant_country
			ORDER BY total_spend DESC`,
	},
	{
		name: "income_sources",
		sql: `
			CREATE VIEW income_sources AS
			SELECT
				description,
				counterparty_name,
				COUNT(*) AS payment_count,
				SUM(amount) / 100.0 AS total_amount,
				AVG(amount) / 100.0 AS avg_amount,
				MIN(created) AS first_payment,
				MAX(created) AS last_payment
			FROM silver_transactions
			WHERE amount > 0
			AND NOT is_load
			GROUP BY
				description,
				counterparty_name
			ORDER BY total_amount DESC`,
	},
}

// TransformBronzeToSilver rebuilds the silver tables from bronze. The whole
// script runs in one transaction, so a failed transform leaves the previous
// silver data intact.
func TransformBronzeToSilver(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	if err := execScript(ctx, db, transformScript); err != nil {
		return fmt.Errorf("sqlite: transform bronze to silver: %w", err)
	}
	log.Info().Msg("bronze layer transformed to silver layer")
	return nil
}

// CreateAnalyticsViews drops and recreates the gold views.
func CreateAnalyticsViews(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin views transaction: %w", err)
	}

	for _, view := range analyticsViews {
		if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+view.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: drop view %s: %w", view.name, err)
		}
		if _, err := tx.ExecContext(ctx, view.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: create view %s: %w", view.name, err)
		}
		log.Debug().Str("view", view.name).Msg("created view")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit views: %w", err)
	}
	log.Info().Int("views", len(analyticsViews)).Msg("analytics views recreated")
	return nil
}

// ExpectedViews returns the names of all gold views, in creation order.
func ExpectedViews() []string {
	names := make([]string, len(analyticsViews))
	for i, view := range analyticsViews {
		names[i] = view.name
	}
	return names
}

// VerifyViews confirms every expected view exists in the catalog. A missing
// view ends the run.
func VerifyViews(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='view'")
	if err != nil {
		return fmt.Errorf("sqlite: query view catalog: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("sqlite: scan view name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterate view catalog: %w", err)
	}

	var missing []string
	for _, name := range ExpectedViews() {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("sqlite: missing analytics views: %s", strings.Join(missing, ", "))
	}
	return nil
}
