package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.DocStore.Backend != "memory" {
		t.Errorf("DocStore.Backend = %q, want memory", cfg.DocStore.Backend)
	}
	if cfg.Reaper.IterationThrottle != 100*time.Millisecond {
		t.Errorf("IterationThrottle = %v", cfg.Reaper.IterationThrottle)
	}
	if cfg.Sizer.BackoffMaxRetries != 5 {
		t.Errorf("Sizer.BackoffMaxRetries = %d, want 5", cfg.Sizer.BackoffMaxRetries)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("S3_BUCKET", "photos")
	t.Setenv("REAPER_ITERATION_THROTTLE", "2s")
	t.Setenv("INDEXER_RUN_ON_STARTUP", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.S3.Bucket != "photos" {
		t.Errorf("S3.Bucket = %q", cfg.S3.Bucket)
	}
	if cfg.Reaper.IterationThrottle != 2*time.Second {
		t.Errorf("IterationThrottle = %v", cfg.Reaper.IterationThrottle)
	}
	if !cfg.Indexer.RunOnStartup {
		t.Error("Indexer.RunOnStartup should be true")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nimbus.yaml")
	data := []byte(`
cache:
  enabled: true
  dir: /tmp/nimbus-cache
  signing_secret: s3cret
  token_validity: 30m
sizer:
  cron: "*/5 * * * *"
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Dir != "/tmp/nimbus-cache" {
		t.Errorf("cache config not read: %+v", cfg.Cache)
	}
	if cfg.Cache.TokenValidity != 30*time.Minute {
		t.Errorf("TokenValidity = %v", cfg.Cache.TokenValidity)
	}
	if cfg.Sizer.Cron != "*/5 * * * *" {
		t.Errorf("Sizer.Cron = %q", cfg.Sizer.Cron)
	}
}

func TestRedisSearchNeedsKeyPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nimbus.yaml")
	data := []byte(`
search:
  backend: redis
  key_prefix: ""
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "SEARCH_KEY_PREFIX") {
		t.Errorf("Load() error = %v, want missing SEARCH_KEY_PREFIX", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"postgres without url", map[string]string{"DOCSTORE_BACKEND": "postgres"}, true},
		{"postgres with url", map[string]string{"DOCSTORE_BACKEND": "postgres", "DATABASE_URL": "postgres://x"}, false},
		{"unknown backend", map[string]string{"DOCSTORE_BACKEND": "dynamo"}, true},
		{"cache without secret", map[string]string{"CACHE_ENABLED": "true"}, true},
		{"bad tiers", map[string]string{"COST_TIERS": "standard:zero:1"}, true},
		{"redis search", map[string]string{"SEARCH_BACKEND": "redis"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTiers(t *testing.T) {
	tiers, err := CostConfig{Tiers: "hot:0:0.02, cold:60:0.001"}.ParseTiers()
	if err != nil {
		t.Fatalf("ParseTiers: %v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("got %d tiers, want 2", len(tiers))
	}
	if tiers[1].Name != "cold" || tiers[1].DaysSinceUsed != 60 || tiers[1].CostPerGBMonth != "0.001" {
		t.Errorf("unexpected tier %+v", tiers[1])
	}
}
