package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/pkg/httpx"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

// Role selects the provider-side input type for an embedding request. Query
// and document vectors live in the same space but some providers prepend
// different instructions per role.
type Role string

const (
	RoleQuery    Role = "query"
	RoleDocument Role = "document"
)

const (
	opEmbed       = "embeddings.embed"
	opDimension   = "embeddings.dimension"
	opHealthCheck = "embeddings.health_check"

	// rateLimitBackoffFloor is the minimum pause after a 429 regardless of
	// where the exponential schedule currently sits.
	rateLimitBackoffFloor = 5 * time.Second
	maxBackoff            = 30 * time.Second

	dimensionProbeText = "dimension probe"
)

type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, role Role) ([][]float32, error)
	// Dimension reports the width of vectors produced by the configured
	// model, probing the provider once and caching the answer.
	Dimension(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) bool
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	limiter    *windowLimiter

	sf    singleflight.Group
	dimMu sync.Mutex
	dim   int

	sleep func(time.Duration)
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &client{
		log:        log.With("component", "embeddings_client", "model", cfg.Model),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newWindowLimiter(cfg.RateLimitMaxRequests, cfg.RateLimitWindow),
		sleep:      time.Sleep,
	}, nil
}

func (c *client) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			// The provider rejects empty strings; a single space keeps
			// positions aligned with the caller's slice.
			cleaned[i] = " "
			continue
		}
		cleaned[i] = t
	}

	out := make([][]float32, len(cleaned))
	for start := 0; start < len(cleaned); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(cleaned) {
			end = len(cleaned)
		}
		if start > 0 && c.cfg.InterBatchDelay > 0 {
			c.sleep(c.cfg.InterBatchDelay)
		}
		vectors, err := c.embedBatchWithRetry(ctx, cleaned[start:end], role)
		if err != nil {
			if !faults.IsRateLimit(err) {
				return nil, err
			}
			c.log.Warn("embedding batch rate limited after retries; degrading to per-item requests",
				"batch_start", start, "batch_size", end-start)
			vectors, err = c.embedDegraded(ctx, cleaned[start:end], role)
			if err != nil {
				return nil, err
			}
		}
		copy(out[start:], vectors)
	}
	return out, nil
}

// embedDegraded retries a rate-limited batch one text at a time with a pause
// between requests, trading throughput for a chance to finish at all.
func (c *client) embedDegraded(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if i > 0 && c.cfg.DegradedItemDelay > 0 {
			c.sleep(c.cfg.DegradedItemDelay)
		}
		vectors, err := c.embedBatchWithRetry(ctx, []string{t}, role)
		if err != nil {
			return nil, fmt.Errorf("degraded embedding of item %d: %w", i, err)
		}
		out[i] = vectors[0]
	}
	return out, nil
}

func (c *client) embedBatchWithRetry(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
			if faults.IsRateLimit(lastErr) && backoff < rateLimitBackoffFloor {
				backoff = rateLimitBackoffFloor
			}
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if d := faults.RetryAfterOf(lastErr); d > backoff {
				backoff = d
			}
			c.log.Warn("retrying embedding batch", "attempt", attempt, "backoff", backoff, "error", lastErr)
			c.sleep(httpx.JitterSleep(backoff))
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, faults.Wrap(faults.KindTransient, opEmbed, err)
		}
		vectors, err := c.embedOnce(ctx, texts, role)
		if err == nil {
			return vectors, nil
		}
		if !faults.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *client) embedOnce(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{
		Input:     texts,
		Model:     c.cfg.Model,
		InputType: string(role),
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindUnknown, opEmbed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(faults.KindUnknown, opEmbed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransient, opEmbed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, faults.Wrap(faults.KindTransient, opEmbed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ferr := faults.FromStatus(opEmbed, resp.StatusCode, string(raw))
		ferr.RetryAfter = httpx.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, ferr
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, faults.Wrap(faults.KindSchema, opEmbed, err)
	}
	vectors, err := assembleByIndex(parsed.Data, len(texts))
	if err != nil {
		return nil, err
	}
	c.log.Debug("embedded batch", "count", len(texts), "total_tokens", parsed.Usage.TotalTokens)
	return vectors, nil
}

// assembleByIndex places each returned vector at the slot named by its index
// field. Provider responses are not guaranteed to arrive in input order.
func assembleByIndex(data []embeddingDatum, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, faults.Schema(opEmbed, fmt.Sprintf("provider returned %d embeddings for %d inputs", len(data), want))
	}
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, want)
	for _, d := range data {
		if d.Index < 0 || d.Index >= want {
			return nil, faults.Schema(opEmbed, fmt.Sprintf("embedding index %d out of range", d.Index))
		}
		if out[d.Index] != nil {
			return nil, faults.Schema(opEmbed, fmt.Sprintf("duplicate embedding index %d", d.Index))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, faults.Schema(opEmbed, fmt.Sprintf("missing embedding for input %d", i))
		}
	}
	return out, nil
}

func (c *client) Dimension(ctx context.Context) (int, error) {
	c.dimMu.Lock()
	if c.dim > 0 {
		dim := c.dim
		c.dimMu.Unlock()
		return dim, nil
	}
	c.dimMu.Unlock()

	v, err, _ := c.sf.Do("dimension", func() (any, error) {
		vectors, err := c.embedBatchWithRetry(ctx, []string{dimensionProbeText}, RoleQuery)
		if err != nil || len(vectors) == 0 || len(vectors[0]) == 0 {
			fallback := defaultDimension(c.cfg.Model)
			c.log.Warn("dimension probe failed; using model default",
				"fallback", fallback, "error", err)
			return fallback, nil
		}
		return len(vectors[0]), nil
	})
	if err != nil {
		return 0, faults.Wrap(faults.KindTransient, opDimension, err)
	}
	dim := v.(int)
	c.dimMu.Lock()
	c.dim = dim
	c.dimMu.Unlock()
	return dim, nil
}

func (c *client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.embedOnce(ctx, []string{"ping"}, RoleQuery)
	if err != nil {
		c.log.Warn("embeddings health check failed", "error", err)
		return false
	}
	return true
}

type embeddingsRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type embeddingDatum struct {
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingsResponse struct {
	Data  []embeddingDatum `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}
