package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testConfig() Config {
	return Config{
		BaseURL:     "https://llm.test/v1",
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   512,
		Timeout:     5 * time.Second,
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *client {
	t.Helper()
	c, err := NewClient(logger.Nop(), testConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cl := c.(*client)
	cl.httpClient = &http.Client{Transport: rt}
	return cl
}

func completionResponse(content string, totalTokens int) *http.Response {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"total_tokens": totalTokens},
	}
	raw, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(raw))),
	}
}

func TestAnswerSendsGroundedPrompt(t *testing.T) {
	var captured chatRequest
	rt := func(r *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		return completionResponse("The dataset has 12 columns.", 77), nil
	}
	cl := newTestClient(t, rt)

	result, err := cl.Answer(context.Background(), AnswerRequest{
		Question:      "How many columns?",
		DocumentTitle: "Dataset Manual",
		Chunks: []ScoredChunk{
			{Text: "The dataset has 12 columns.", Score: 0.91, ChunkIndex: 4},
			{Text: "Each column is typed.", Score: 0.77, ChunkIndex: 5},
		},
		History: []QA{{Question: "What is this?", Answer: "A manual."}},
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if result.Answer != "The dataset has 12 columns." || result.TokensUsed != 77 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if captured.Model != "gpt-4o-mini" || captured.MaxTokens != 512 {
		t.Fatalf("request envelope = %+v", captured)
	}
	if len(captured.Messages) != 4 {
		t.Fatalf("expected system + history pair + question, got %d messages", len(captured.Messages))
	}
	system := captured.Messages[0]
	if system.Role != "system" {
		t.Fatalf("first message role = %s", system.Role)
	}
	if !strings.Contains(system.Content, "Document: Dataset Manual") {
		t.Fatal("system prompt missing document title")
	}
	if !strings.Contains(system.Content, "[Section 1] (relevance 0.91)") ||
		!strings.Contains(system.Content, "[Section 2] (relevance 0.77)") {
		t.Fatalf("system prompt missing section blocks:\n%s", system.Content)
	}
	if !strings.Contains(system.Content, "cite the section that supports each claim") {
		t.Fatalf("system prompt missing citation instruction:\n%s", system.Content)
	}
	if captured.Messages[1].Role != "user" || captured.Messages[2].Role != "assistant" {
		t.Fatal("history not replayed as user/assistant pair")
	}
	if captured.Messages[3].Content != "How many columns?" {
		t.Fatalf("final message = %+v", captured.Messages[3])
	}
}

func TestAnswerPromptIsDeterministic(t *testing.T) {
	req := AnswerRequest{
		Question:      "What now?",
		DocumentTitle: "Notes",
		Chunks:        []ScoredChunk{{Text: "Next steps are listed.", Score: 0.5}},
	}
	first := buildAnswerMessages(req)
	second := buildAnswerMessages(req)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs produced different prompts")
	}
}

func TestAnswerFallsBackToDocumentContent(t *testing.T) {
	messages := buildAnswerMessages(AnswerRequest{
		Question:        "What is this about?",
		DocumentTitle:   "Report",
		DocumentContent: "Quarterly revenue grew by ten percent.",
	})
	system := messages[0].Content
	if !strings.Contains(system, "Quarterly revenue grew") {
		t.Fatal("fallback content missing from prompt")
	}
	if !strings.Contains(system, "could not be retrieved") {
		t.Fatal("fallback prompt missing degraded-context note")
	}
	if strings.Contains(system, "[Section") {
		t.Fatal("fallback prompt must not fabricate sections")
	}
}

func TestAnswerTruncatesHistory(t *testing.T) {
	history := []QA{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
		{Question: "q3", Answer: "a3"},
		{Question: "q4", Answer: "a4"},
		{Question: "q5", Answer: "a5"},
	}
	messages := buildAnswerMessages(AnswerRequest{Question: "now?", History: history})
	// system + 3 pairs + question
	if len(messages) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(messages))
	}
	if messages[1].Content != "q3" {
		t.Fatalf("expected oldest retained question q3, got %q", messages[1].Content)
	}
}

func TestAnswerEmptyCompletionIsHardError(t *testing.T) {
	calls := 0
	rt := func(r *http.Request) (*http.Response, error) {
		calls++
		return completionResponse("   ", 10), nil
	}
	cl := newTestClient(t, rt)

	_, err := cl.Answer(context.Background(), AnswerRequest{Question: "hi"})
	if err == nil {
		t.Fatal("expected error for empty completion")
	}
	if faults.KindOf(err) != faults.KindSchema {
		t.Fatalf("expected schema kind, got %s", faults.KindOf(err))
	}
	if calls != 1 {
		t.Fatalf("empty completion retried: %d calls", calls)
	}
}

func TestAnswerDoesNotRetryProviderFailures(t *testing.T) {
	calls := 0
	rt := func(r *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader(`{"error":"boom"}`)),
		}, nil
	}
	cl := newTestClient(t, rt)

	_, err := cl.Answer(context.Background(), AnswerRequest{Question: "hi"})
	if err == nil {
		t.Fatal("expected provider error")
	}
	if faults.KindOf(err) != faults.KindTransient {
		t.Fatalf("expected transient kind, got %s", faults.KindOf(err))
	}
	if calls != 1 {
		t.Fatalf("generation call retried: %d requests", calls)
	}
}

func TestSummarizeVariesInstructionByLength(t *testing.T) {
	short := buildSummaryMessages("T", "content", SummaryShort)[1].Content
	medium := buildSummaryMessages("T", "content", SummaryMedium)[1].Content
	long := buildSummaryMessages("T", "content", SummaryLong)[1].Content
	if !strings.Contains(short, "2 to 3 sentences") {
		t.Fatalf("short instruction = %q", short)
	}
	if !strings.Contains(medium, "1 to 2 paragraphs") {
		t.Fatalf("medium instruction = %q", medium)
	}
	if !strings.Contains(long, "4 to 6 paragraphs") {
		t.Fatalf("long instruction = %q", long)
	}
}

func TestSummarizeRequiresContent(t *testing.T) {
	cl := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	_, err := cl.Summarize(context.Background(), "T", "   ", SummaryShort)
	if err == nil {
		t.Fatal("expected validation error for empty content")
	}
	if faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("expected validation kind, got %s", faults.KindOf(err))
	}
}
