package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Publish.ConfidenceThreshold != 0.7 {
		t.Fatalf("threshold = %v", cfg.Publish.ConfidenceThreshold)
	}
	if cfg.Publish.MaxPostsPerCycle != 4 {
		t.Fatalf("max posts = %d", cfg.Publish.MaxPostsPerCycle)
	}
	if cfg.Watchdog.StaleAfter != time.Hour {
		t.Fatalf("stale after = %v", cfg.Watchdog.StaleAfter)
	}
	if cfg.TrialLength != 14*24*time.Hour {
		t.Fatalf("trial length = %v", cfg.TrialLength)
	}
	if cfg.PipelineSchedule != "@every 6h" || cfg.Watchdog.Schedule != "@every 5m" {
		t.Fatalf("schedules = %q %q", cfg.PipelineSchedule, cfg.Watchdog.Schedule)
	}
}

func TestLoadConfigReadsNestedSections(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY", "ak")
	t.Setenv("R2_SECRET_KEY", "sk")
	t.Setenv("R2_BUCKET_NAME", "runs")
	t.Setenv("LINKEDIN_ACCESS_TOKEN", "tok")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.R2.Enabled() {
		t.Fatal("expected R2 enabled")
	}
	if cfg.LinkedIn.Enabled() {
		t.Fatal("LinkedIn needs both token and person urn")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POST_CONFIDENCE_THRESHOLD", "1.5")
	t.Setenv("WATCHDOG_PAGE_SIZE", "0")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"POST_CONFIDENCE_THRESHOLD", "WATCHDOG_PAGE_SIZE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestLoadConfigParseError(t *testing.T) {
	t.Setenv("MAX_POSTS_PER_CYCLE", "many")
	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestPostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}
