package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the pipeline needs at construction time. There are
// no package-level singletons; callers load a Config once and pass it down.
type Config struct {
	// Blob store holding the SQLite file, secrets and staging snapshots.
	Bucket string

	// Object keys within the bucket.
	DBObjectKey    string
	CredentialsKey string
	TokenKey       string

	// Local scratch path for the checked-out SQLite file.
	DBLocalPath string

	// Staging of raw extraction snapshots.
	StagingPrefix  string
	StageRaw       bool
	StagingKeepMax int

	// Extraction window in days.
	DaysBack int

	// Monzo API base URL. Overridable for tests.
	APIBaseURL string

	LogLevel string
}

// Load reads configuration from the environment, optionally seeded from a
// dotenv file. A missing dotenv file is not an error; the process environment
// alone may be sufficient (e.g. in a scheduled runner).
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{
		Bucket:         getEnv("MONZO_ETL_BUCKET", ""),
		DBObjectKey:    getEnv("MONZO_ETL_DB_OBJECT", "monzo_dashboard.db"),
		CredentialsKey: getEnv("MONZO_ETL_CREDENTIALS_OBJECT", "secrets/monzo-api-credentials.json"),
		TokenKey:       getEnv("MONZO_ETL_TOKEN_OBJECT", "secrets/tokens/current.json"),
		DBLocalPath:    getEnv("MONZO_ETL_DB_PATH", "monzo_dashboard.db"),
		StagingPrefix:  getEnv("MONZO_ETL_STAGING_PREFIX", "staging/"),
		StageRaw:       getEnv("MONZO_ETL_STAGE_RAW", "true") == "true",
		StagingKeepMax: getEnvInt("MONZO_ETL_STAGING_KEEP", 10),
		DaysBack:       getEnvInt("MONZO_ETL_DAYS_BACK", 30),
		APIBaseURL:     getEnv("MONZO_API_BASE_URL", "https://api.monzo.com"),
		LogLevel:       getEnv("MONZO_ETL_LOG_LEVEL", "info"),
	}

	if cfg.Bucket == "" {
		return nil, errors.New("MONZO_ETL_BUCKET is required")
	}
	if cfg.DaysBack <= 0 {
		return nil, errors.New("MONZO_ETL_DAYS_BACK must be positive")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
