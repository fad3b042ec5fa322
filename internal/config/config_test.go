package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/devsearch/internal/apperr"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, `{}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.HTTPPort != 3000 {
		t.Errorf("Server.HTTPPort = %d, want 3000", cfg.Server.HTTPPort)
	}
	if cfg.Search.DefaultLimit != 10 || cfg.Search.MaxLimit != 100 {
		t.Errorf("Search limits = %d/%d, want 10/100", cfg.Search.DefaultLimit, cfg.Search.MaxLimit)
	}
	if cfg.Search.FuzzyThreshold != 0.3 {
		t.Errorf("Search.FuzzyThreshold = %v, want 0.3", cfg.Search.FuzzyThreshold)
	}
	if cfg.Search.VectorThreshold != 0.5 {
		t.Errorf("Search.VectorThreshold = %v, want 0.5", cfg.Search.VectorThreshold)
	}
	if cfg.Search.IndexTTL != 5*time.Minute {
		t.Errorf("Search.IndexTTL = %v, want 5m", cfg.Search.IndexTTL)
	}
	if cfg.RAG.CacheTTL != 10*time.Minute {
		t.Errorf("RAG.CacheTTL = %v, want 10m", cfg.RAG.CacheTTL)
	}
	if cfg.RAG.RelevanceThreshold != 0.6 {
		t.Errorf("RAG.RelevanceThreshold = %v, want 0.6", cfg.RAG.RelevanceThreshold)
	}
	if cfg.Tools.RateWindow != time.Minute {
		t.Errorf("Tools.RateWindow = %v, want 1m", cfg.Tools.RateWindow)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
}

// TestFileValues verifies typed values are read from the JSON backend.
func TestFileValues(t *testing.T) {
	path := writeTempConfig(t, `{
  "server.http_port": 5000,
  "storage.data_dir": "/tmp/devsearch-test",
  "search.max_limit": 50,
  "search.fuzzy_threshold": "0.4",
  "search.index_ttl": "90s",
  "rag.enabled": "false"
}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.HTTPPort != 5000 {
		t.Errorf("Server.HTTPPort = %d, want 5000", cfg.Server.HTTPPort)
	}
	if cfg.Storage.DataDir != "/tmp/devsearch-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Search.MaxLimit != 50 {
		t.Errorf("Search.MaxLimit = %d, want 50", cfg.Search.MaxLimit)
	}
	if cfg.Search.FuzzyThreshold != 0.4 {
		t.Errorf("Search.FuzzyThreshold = %v, want 0.4", cfg.Search.FuzzyThreshold)
	}
	if cfg.Search.IndexTTL != 90*time.Second {
		t.Errorf("Search.IndexTTL = %v, want 90s", cfg.Search.IndexTTL)
	}
	if cfg.RAG.Enabled {
		t.Error("RAG.Enabled = true, want false")
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `{"search.default_limit": 20}`)

	t.Setenv("DEVSEARCH_SEARCH_DEFAULT_LIMIT", "25")
	t.Setenv("DEVSEARCH_RAG_CACHE_TTL", "2m")
	t.Setenv("DEVSEARCH_LOG_LEVEL", "debug")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Search.DefaultLimit != 25 {
		t.Errorf("Search.DefaultLimit = %d, want 25", cfg.Search.DefaultLimit)
	}
	if cfg.RAG.CacheTTL != 2*time.Minute {
		t.Errorf("RAG.CacheTTL = %v, want 2m", cfg.RAG.CacheTTL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

// TestEnvOverrideUnparseable keeps the default when an env var cannot be parsed.
func TestEnvOverrideUnparseable(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	t.Setenv("DEVSEARCH_SEARCH_MAX_LIMIT", "lots")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.MaxLimit != 100 {
		t.Errorf("Search.MaxLimit = %d, want default 100", cfg.Search.MaxLimit)
	}
}

// TestValidateRejectsBadValues verifies invalid settings surface as config errors.
func TestValidateRejectsBadValues(t *testing.T) {
	path := writeTempConfig(t, `{"search.max_limit": 5, "search.vector_threshold": "1.5"}`)

	_, err := loadWith(newFileBackend(path))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeConfig {
		t.Fatalf("err = %v, want CONFIG_ERROR", err)
	}
	if ae.Operational {
		t.Error("config errors must not be operational")
	}
	issues, _ := ae.Details["issues"].([]apperr.FieldIssue)
	var fields []string
	for _, is := range issues {
		fields = append(fields, is.Field)
	}
	joined := strings.Join(fields, ",")
	if !strings.Contains(joined, "search.max_limit") || !strings.Contains(joined, "search.vector_threshold") {
		t.Errorf("issue fields = %q", joined)
	}
}

// TestSetKeyPersists writes keys through the backend and reads them back.
func TestSetKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsearch", "config.json")
	b := newFileBackend(path)

	if err := setKeyWith(b, "search.max_limit", "200"); err != nil {
		t.Fatalf("setKeyWith int: %v", err)
	}
	if err := setKeyWith(b, "search.index_ttl", "30s"); err != nil {
		t.Fatalf("setKeyWith duration: %v", err)
	}
	if err := setKeyWith(b, "search.index_ttl", "soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Search.MaxLimit != 200 {
		t.Errorf("Search.MaxLimit = %d, want 200", cfg.Search.MaxLimit)
	}
	if cfg.Search.IndexTTL != 30*time.Second {
		t.Errorf("Search.IndexTTL = %v, want 30s", cfg.Search.IndexTTL)
	}
}

func TestShowAllCoversEveryKey(t *testing.T) {
	infos := ShowAll(Default())
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, ValidKeys %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if !strings.HasPrefix(info.EnvVar, "DEVSEARCH_") {
			t.Errorf("key %s has env var %q", info.Key, info.EnvVar)
		}
		if info.Key == "search.index_ttl" && info.Value != "5m0s" {
			t.Errorf("search.index_ttl value = %q, want 5m0s", info.Value)
		}
	}
}
