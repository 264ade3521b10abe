package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StorageType != "sqlite" {
		t.Errorf("StorageType = %s want sqlite", cfg.StorageType)
	}
	if cfg.FetchTimeout != 60*time.Second {
		t.Errorf("FetchTimeout = %s want 60s", cfg.FetchTimeout)
	}
	if cfg.SubmitTimeout != 30*time.Second {
		t.Errorf("SubmitTimeout = %s want 30s", cfg.SubmitTimeout)
	}
	if cfg.WatchInterval != 0 {
		t.Errorf("WatchInterval = %s want 0 (single run)", cfg.WatchInterval)
	}
	if cfg.UserAgent == "" {
		t.Errorf("UserAgent should have a default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "bbolt")
	t.Setenv("WATCH_INTERVAL_SECONDS", "300")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageType != "bbolt" {
		t.Errorf("StorageType = %s want bbolt", cfg.StorageType)
	}
	if cfg.WatchInterval != 5*time.Minute {
		t.Errorf("WatchInterval = %s want 5m", cfg.WatchInterval)
	}
}

func TestLoadRejectsBadTimeouts(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT_SECONDS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero fetch timeout")
	}
}
