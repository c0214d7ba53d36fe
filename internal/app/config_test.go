package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "")
	t.Setenv("RAG_MAX_SOURCES", "")

	cfg := LoadConfig(logger.Nop())
	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.RAG.ChunkSizeTokens != 500 || cfg.RAG.OverlapTokens != 50 || cfg.RAG.MaxSources != 5 {
		t.Fatalf("rag defaults = %+v", cfg.RAG)
	}
	if !cfg.RAG.PreserveParagraphs || !cfg.RAG.SummarizeOnIngest {
		t.Fatalf("boolean defaults = %+v", cfg.RAG)
	}
	if cfg.ServiceCacheMaxAge != 30*time.Minute {
		t.Fatalf("cache max age = %v", cfg.ServiceCacheMaxAge)
	}
}

func TestLoadConfigFileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
port: "9090"
rag:
  max_sources: 7
  preserve_paragraphs: false
service_cache_max_age_ms: 60000
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "8081")
	t.Setenv("RAG_CHUNK_SIZE_TOKENS", "256")

	cfg := LoadConfig(logger.Nop())
	if cfg.Port != "9090" {
		t.Fatalf("file should override env port, got %q", cfg.Port)
	}
	if cfg.RAG.MaxSources != 7 || cfg.RAG.PreserveParagraphs {
		t.Fatalf("overlay not applied: %+v", cfg.RAG)
	}
	// Keys absent from the file keep their env values.
	if cfg.RAG.ChunkSizeTokens != 256 {
		t.Fatalf("env value lost: %d", cfg.RAG.ChunkSizeTokens)
	}
	if cfg.ServiceCacheMaxAge != time.Minute {
		t.Fatalf("cache max age = %v", cfg.ServiceCacheMaxAge)
	}
}

func TestLoadConfigIgnoresBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: [not: valid"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "8082")

	cfg := LoadConfig(logger.Nop())
	if cfg.Port != "8082" {
		t.Fatalf("broken file must fall back to env, got %q", cfg.Port)
	}
}
