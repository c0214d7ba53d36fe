package llm

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/envutil"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:     envutil.String("LLM_BASE_URL", "https://api.openai.com/v1"),
		APIKey:      strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		Model:       envutil.String("LLM_MODEL", "gpt-4o-mini"),
		Temperature: 0.2,
		MaxTokens:   envutil.Int("LLM_MAX_TOKENS", 1024),
		Timeout:     envutil.DurationMs("LLM_TIMEOUT_MS", 60*time.Second),
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("missing LLM_API_KEY")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid LLM_BASE_URL=%q; expected absolute URL", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("missing LLM_MODEL")
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	return nil
}
