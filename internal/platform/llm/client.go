package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

const (
	opAnswer    = "llm.answer"
	opSummarize = "llm.summarize"
)

type SummaryLength string

const (
	SummaryShort  SummaryLength = "short"
	SummaryMedium SummaryLength = "medium"
	SummaryLong   SummaryLength = "long"
)

type QA struct {
	Question string
	Answer   string
}

type ScoredChunk struct {
	Text       string
	Score      float64
	ChunkIndex int
}

type AnswerRequest struct {
	Question      string
	DocumentTitle string
	Chunks        []ScoredChunk
	// DocumentContent carries the opening of the document as a degraded
	// substitute for retrieved chunks.
	DocumentContent string
	History         []QA
}

type AnswerResult struct {
	Answer     string
	TokensUsed int
}

// Client talks to an OpenAI-compatible chat completion endpoint. Generation
// calls are made exactly once; a timeout or provider failure is a hard
// failure the caller handles, never a silent retry.
type Client interface {
	Answer(ctx context.Context, req AnswerRequest) (AnswerResult, error)
	Summarize(ctx context.Context, title, content string, length SummaryLength) (AnswerResult, error)
	HealthCheck(ctx context.Context) bool
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &client{
		log:        log.With("component", "llm_client", "model", cfg.Model),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *client) Answer(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return AnswerResult{}, faults.New(faults.KindValidation, opAnswer, "question is required")
	}
	return c.complete(ctx, opAnswer, buildAnswerMessages(req))
}

func (c *client) Summarize(ctx context.Context, title, content string, length SummaryLength) (AnswerResult, error) {
	if strings.TrimSpace(content) == "" {
		return AnswerResult{}, faults.New(faults.KindValidation, opSummarize, "content is required")
	}
	return c.complete(ctx, opSummarize, buildSummaryMessages(title, content, length))
}

func (c *client) complete(ctx context.Context, op string, messages []chatMessage) (AnswerResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return AnswerResult{}, faults.Wrap(faults.KindUnknown, op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return AnswerResult{}, faults.Wrap(faults.KindUnknown, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return AnswerResult{}, faults.Wrap(faults.KindTransient, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return AnswerResult{}, faults.Wrap(faults.KindTransient, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return AnswerResult{}, faults.FromStatus(op, resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return AnswerResult{}, faults.Wrap(faults.KindSchema, op, err)
	}
	if len(parsed.Choices) == 0 {
		return AnswerResult{}, faults.Schema(op, "provider returned no choices")
	}
	answer := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if answer == "" {
		return AnswerResult{}, faults.Schema(op, "provider returned empty completion content")
	}

	c.log.Debug("completion finished",
		"operation", op,
		"duration_ms", time.Since(started).Milliseconds(),
		"total_tokens", parsed.Usage.TotalTokens,
	)
	return AnswerResult{Answer: answer, TokensUsed: parsed.Usage.TotalTokens}, nil
}

func (c *client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.complete(ctx, "llm.health_check", []chatMessage{
		{Role: "user", Content: "Reply with the single word: ok"},
	})
	if err != nil {
		c.log.Warn("llm health check failed", "error", err)
		return false
	}
	return true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}
