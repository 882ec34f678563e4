// Command etl runs one full Monzo ETL cycle: checkout the SQLite database
// from GCS, extract from the Monzo API, load bronze, rebuild silver and the
// analytics views, and check the database back in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/monzo-etl/internal/config"
	"github.com/dvloznov/monzo-etl/internal/gcsstore"
	"github.com/dvloznov/monzo-etl/internal/logger"
	"github.com/dvloznov/monzo-etl/internal/monzo"
	"github.com/dvloznov/monzo-etl/internal/pipeline"
	"github.com/dvloznov/monzo-etl/internal/secrets"
)

func main() {
	envFile := flag.String("env", ".env", "path to dotenv file (missing file is ignored)")
	daysBack := flag.Int("days-back", 0, "override the extraction window in days")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *daysBack > 0 {
		cfg.DaysBack = *daysBack
	}

	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	store, err := gcsstore.New(ctx, cfg.Bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bucket client")
	}
	defer store.Close()

	secretStore := secrets.NewGCSStore(store, cfg.CredentialsKey, cfg.TokenKey)

	bank, err := monzo.NewClient(ctx, secretStore, cfg.APIBaseURL, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Monzo client")
	}

	log.Info().
		Str("bucket", cfg.Bucket).
		Int("days_back", cfg.DaysBack).
		Msg("starting ETL run")

	if err := pipeline.NewRunner(cfg, store, bank, log).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("ETL run failed")
	}

	fmt.Println("ETL run completed successfully.")
}
