package config

import (
	"testing"
)

func TestLoad_RequiresBucket(t *testing.T) {
	t.Setenv("MONZO_ETL_BUCKET", "")

	if _, err := Load(""); err == nil {
		t.Fatal("Expected error when MONZO_ETL_BUCKET is unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MONZO_ETL_BUCKET", "monzo-db-bucket")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBObjectKey != "monzo_dashboard.db" {
		t.Errorf("DBObjectKey = %q, want default", cfg.DBObjectKey)
	}
	if cfg.DaysBack != 30 {
		t.Errorf("DaysBack = %d, want 30", cfg.DaysBack)
	}
	if cfg.APIBaseURL != "https://api.monzo.com" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if !cfg.StageRaw {
		t.Error("StageRaw should default to true")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MONZO_ETL_BUCKET", "other-bucket")
	t.Setenv("MONZO_ETL_DAYS_BACK", "7")
	t.Setenv("MONZO_ETL_STAGE_RAW", "false")
	t.Setenv("MONZO_ETL_STAGING_KEEP", "bogus")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DaysBack != 7 {
		t.Errorf("DaysBack = %d, want 7", cfg.DaysBack)
	}
	if cfg.StageRaw {
		t.Error("StageRaw should be false")
	}
	if cfg.StagingKeepMax != 10 {
		t.Errorf("StagingKeepMax = %d, want fallback 10 on bad value", cfg.StagingKeepMax)
	}
}

func TestLoad_RejectsNonPositiveWindow(t *testing.T) {
	t.Setenv("MONZO_ETL_BUCKET", "monzo-db-bucket")
	t.Setenv("MONZO_ETL_DAYS_BACK", "-1")

	if _, err := Load(""); err == nil {
		t.Fatal("Expected error for negative days back")
	}
}
