package embeddings

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/envutil"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	BatchSize            int
	MaxRetries           int
	RetryBaseDelay       time.Duration
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	Timeout              time.Duration

	// InterBatchDelay spaces sequential sub-batches; DegradedItemDelay spaces
	// the per-item requests on the rate-limit degradation path.
	InterBatchDelay   time.Duration
	DegradedItemDelay time.Duration
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:              envutil.String("EMBEDDINGS_BASE_URL", "https://api.openai.com/v1"),
		APIKey:               strings.TrimSpace(os.Getenv("EMBEDDINGS_API_KEY")),
		Model:                envutil.String("EMBEDDINGS_MODEL", "text-embedding-3-small"),
		BatchSize:            envutil.Int("EMBEDDINGS_BATCH_SIZE", 20),
		MaxRetries:           envutil.Int("EMBEDDINGS_MAX_RETRIES", 5),
		RetryBaseDelay:       envutil.DurationMs("EMBEDDINGS_RETRY_BASE_DELAY_MS", time.Second),
		RateLimitWindow:      envutil.DurationMs("EMBEDDINGS_RATE_LIMIT_WINDOW_MS", 60*time.Second),
		RateLimitMaxRequests: envutil.Int("EMBEDDINGS_RATE_LIMIT_MAX_REQUESTS", 10),
		Timeout:              envutil.DurationMs("EMBEDDINGS_TIMEOUT_MS", 30*time.Second),
		InterBatchDelay:      envutil.DurationMs("EMBEDDINGS_INTER_BATCH_DELAY_MS", 500*time.Millisecond),
		DegradedItemDelay:    envutil.DurationMs("EMBEDDINGS_DEGRADED_ITEM_DELAY_MS", 2*time.Second),
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("missing EMBEDDINGS_API_KEY")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid EMBEDDINGS_BASE_URL=%q; expected absolute URL", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("missing EMBEDDINGS_MODEL")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("EMBEDDINGS_BATCH_SIZE must be positive")
	}
	if cfg.RateLimitMaxRequests <= 0 || cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("embeddings rate limit window and max requests must be positive")
	}
	return nil
}

// defaultDimension is the documented vector width per model, used when the
// dimension probe cannot reach the provider.
func defaultDimension(model string) int {
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-ada-002":
		return 1536
	default: // text-embedding-3-small and compatible models
		return 1536
	}
}
