package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/envutil"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/services"
)

type Config struct {
	Port        string
	Environment string
	Version     string

	RAG                RAGSettings
	ServiceCacheMaxAge time.Duration
}

type RAGSettings struct {
	ChunkSizeTokens     int
	OverlapTokens       int
	PreserveParagraphs  bool
	MinChunkSizeTokens  int
	MaxSources          int
	HistoryTurns        int
	ContentPreviewChars int
	SummarizeOnIngest   bool
}

func (r RAGSettings) toServiceConfig() services.RAGConfig {
	return services.RAGConfig{
		ChunkSizeTokens:     r.ChunkSizeTokens,
		OverlapTokens:       r.OverlapTokens,
		PreserveParagraphs:  r.PreserveParagraphs,
		MinChunkSizeTokens:  r.MinChunkSizeTokens,
		MaxSources:          r.MaxSources,
		HistoryTurns:        r.HistoryTurns,
		ContentPreviewChars: r.ContentPreviewChars,
		SummarizeOnIngest:   r.SummarizeOnIngest,
	}
}

// yamlConfig mirrors Config with pointer fields so a CONFIG_PATH file
// overrides only the keys it sets.
type yamlConfig struct {
	Port        *string `yaml:"port"`
	Environment *string `yaml:"environment"`

	RAG struct {
		ChunkSizeTokens     *int  `yaml:"chunk_size_tokens"`
		OverlapTokens       *int  `yaml:"overlap_tokens"`
		PreserveParagraphs  *bool `yaml:"preserve_paragraphs"`
		MinChunkSizeTokens  *int  `yaml:"min_chunk_size_tokens"`
		MaxSources          *int  `yaml:"max_sources"`
		HistoryTurns        *int  `yaml:"history_turns"`
		ContentPreviewChars *int  `yaml:"content_preview_chars"`
		SummarizeOnIngest   *bool `yaml:"summarize_on_ingest"`
	} `yaml:"rag"`

	ServiceCacheMaxAgeMs *int `yaml:"service_cache_max_age_ms"`
}

// LoadConfig resolves defaults, then environment variables, then the
// optional YAML file named by CONFIG_PATH, last writer wins.
func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:        envutil.String("PORT", "8080"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		RAG: RAGSettings{
			ChunkSizeTokens:     envutil.Int("RAG_CHUNK_SIZE_TOKENS", 500),
			OverlapTokens:       envutil.Int("RAG_OVERLAP_TOKENS", 50),
			PreserveParagraphs:  envutil.Bool("RAG_PRESERVE_PARAGRAPHS", true),
			MinChunkSizeTokens:  envutil.Int("RAG_MIN_CHUNK_SIZE_TOKENS", 50),
			MaxSources:          envutil.Int("RAG_MAX_SOURCES", 5),
			HistoryTurns:        envutil.Int("RAG_HISTORY_TURNS", 3),
			ContentPreviewChars: envutil.Int("RAG_CONTENT_PREVIEW_CHARS", 16_000),
			SummarizeOnIngest:   envutil.Bool("RAG_SUMMARIZE_ON_INGEST", true),
		},
		ServiceCacheMaxAge: envutil.DurationMs("SERVICE_CACHE_MAX_AGE_MS", 30*time.Minute),
	}

	path := envutil.String("CONFIG_PATH", "")
	if path == "" {
		return cfg
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("config file unreadable, using env values", "path", path, "error", err)
		return cfg
	}
	var overlay yamlConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		log.Warn("config file invalid, using env values", "path", path, "error", err)
		return cfg
	}
	applyOverlay(&cfg, overlay)
	log.Info("config file applied", "path", path)
	return cfg
}

func applyOverlay(cfg *Config, o yamlConfig) {
	setString(&cfg.Port, o.Port)
	setString(&cfg.Environment, o.Environment)
	setInt(&cfg.RAG.ChunkSizeTokens, o.RAG.ChunkSizeTokens)
	setInt(&cfg.RAG.OverlapTokens, o.RAG.OverlapTokens)
	setBool(&cfg.RAG.PreserveParagraphs, o.RAG.PreserveParagraphs)
	setInt(&cfg.RAG.MinChunkSizeTokens, o.RAG.MinChunkSizeTokens)
	setInt(&cfg.RAG.MaxSources, o.RAG.MaxSources)
	setInt(&cfg.RAG.HistoryTurns, o.RAG.HistoryTurns)
	setInt(&cfg.RAG.ContentPreviewChars, o.RAG.ContentPreviewChars)
	setBool(&cfg.RAG.SummarizeOnIngest, o.RAG.SummarizeOnIngest)
	if o.ServiceCacheMaxAgeMs != nil && *o.ServiceCacheMaxAgeMs > 0 {
		cfg.ServiceCacheMaxAge = time.Duration(*o.ServiceCacheMaxAgeMs) * time.Millisecond
	}
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
