package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/repos"
	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/embeddings"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/llm"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/qdrant"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/rag/chunker"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/rag/tokens"
)

const (
	opIngest    = "rag.ingest_document"
	opChat      = "rag.chat"
	opDelete    = "rag.delete_document"
	opSummarize = "rag.summarize_document"

	// apologeticAnswer is returned when even the degraded path cannot
	// produce a generation; a conversational surface always answers.
	apologeticAnswer = "I'm sorry, I wasn't able to answer that right now. " +
		"The document service is temporarily overloaded; please try again in a moment."
)

type RAGConfig struct {
	ChunkSizeTokens    int
	OverlapTokens      int
	PreserveParagraphs bool
	MinChunkSizeTokens int

	// MaxSources bounds how many retrieved chunks ground one answer.
	MaxSources int
	// HistoryTurns bounds how many prior Q/A pairs are replayed.
	HistoryTurns int
	// ContentPreviewChars bounds the document prefix stored relationally
	// for the degraded chat path.
	ContentPreviewChars int
	SummarizeOnIngest   bool
}

func (c RAGConfig) withDefaults() RAGConfig {
	if c.MaxSources <= 0 {
		c.MaxSources = 5
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 3
	}
	if c.ContentPreviewChars <= 0 {
		c.ContentPreviewChars = 16_000
	}
	return c
}

type IngestRequest struct {
	UserID string
	Title  string
	Text   string
}

type IngestResult struct {
	Success    bool            `json:"success"`
	Document   *types.Document `json:"document,omitempty"`
	ChunkCount int             `json:"chunk_count"`
	TokensUsed int64           `json:"tokens_used"`
	Error      string          `json:"error,omitempty"`
}

type ChatRequest struct {
	UserID     string
	Message    string
	DocumentID *uuid.UUID
}

type ChatResult struct {
	ChatID     uuid.UUID              `json:"chat_id"`
	Answer     string                 `json:"answer"`
	Sources    []types.RetrievedChunk `json:"sources"`
	Fallback   bool                   `json:"fallback"`
	TokensUsed int64                  `json:"tokens_used"`
}

type RAGService interface {
	IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error)
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	ListDocuments(ctx context.Context, userID string) ([]*types.Document, error)
	DeleteDocument(ctx context.Context, userID string, id uuid.UUID) error
	SummarizeDocument(ctx context.Context, userID string, id uuid.UUID, length llm.SummaryLength) (string, error)
	ListChats(ctx context.Context, userID string, documentID *uuid.UUID, limit, offset int) ([]*types.Chat, error)
}

type ragService struct {
	log       *logger.Logger
	cfg       RAGConfig
	cache     *ServiceCache
	profiles  repos.ProfileRepo
	documents repos.DocumentRepo
	chats     repos.ChatRepo
	history   *HistoryCache
}

func NewRAGService(
	log *logger.Logger,
	cfg RAGConfig,
	cache *ServiceCache,
	profiles repos.ProfileRepo,
	documents repos.DocumentRepo,
	chats repos.ChatRepo,
	history *HistoryCache,
) RAGService {
	return &ragService{
		log:       log.With("service", "RAGService"),
		cfg:       cfg.withDefaults(),
		cache:     cache,
		profiles:  profiles,
		documents: documents,
		chats:     chats,
		history:   history,
	}
}

func (s *ragService) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	started := time.Now()
	fail := func(err error) (*IngestResult, error) {
		return &IngestResult{Success: false, Error: faults.UserMessage(err)}, err
	}

	if strings.TrimSpace(req.UserID) == "" {
		return fail(faults.New(faults.KindValidation, opIngest, "user id is required"))
	}
	if strings.TrimSpace(req.Title) == "" {
		return fail(faults.New(faults.KindValidation, opIngest, "title is required"))
	}
	if strings.TrimSpace(req.Text) == "" {
		return fail(faults.New(faults.KindValidation, opIngest, "text is required"))
	}

	profile, err := s.profiles.EnsureForUser(ctx, nil, req.UserID)
	if err != nil {
		return fail(faults.Wrap(faults.KindUnknown, opIngest, err))
	}
	estimated := int64(tokens.Estimate(req.Text))
	if profile.RemainingTokens() < estimated {
		return fail(faults.New(faults.KindBudget, opIngest, fmt.Sprintf(
			"document needs ~%d tokens but only %d remain", estimated, profile.RemainingTokens(),
		)))
	}

	documentID := uuid.New()
	embeddingID := uuid.NewString()
	chunks := chunker.Split(documentID.String(), req.Title, req.UserID, req.Text, chunker.Options{
		ChunkSizeTokens:    s.cfg.ChunkSizeTokens,
		OverlapTokens:      s.cfg.OverlapTokens,
		PreserveParagraphs: s.cfg.PreserveParagraphs,
		MinChunkSizeTokens: s.cfg.MinChunkSizeTokens,
	})
	if len(chunks) == 0 {
		return fail(faults.New(faults.KindValidation, opIngest, "document is too short to index"))
	}

	embedder, err := s.cache.GetEmbeddingClient()
	if err != nil {
		return fail(err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.Embed(ctx, texts, embeddings.RoleDocument)
	if err != nil {
		return fail(err)
	}

	store, err := s.cache.GetVectorStore()
	if err != nil {
		return fail(err)
	}
	dim, err := embedder.Dimension(ctx)
	if err != nil {
		return fail(err)
	}
	if err := store.EnsureCollection(ctx, dim); err != nil {
		return fail(err)
	}

	points := make([]qdrant.Point, len(chunks))
	for i, c := range chunks {
		points[i] = qdrant.Point{
			ID:     c.ID,
			Vector: vectors[i],
			Payload: map[string]any{
				"text":           c.Text,
				"chunk_index":    c.ChunkIndex,
				"document_id":    documentID.String(),
				"document_title": c.DocumentTitle,
				"user_id":        c.UserID,
				"embedding_id":   embeddingID,
				"total_chunks":   c.TotalChunks,
			},
		}
	}
	if err := store.Upsert(ctx, points); err != nil {
		return fail(err)
	}

	doc := &types.Document{
		ID:             documentID,
		UserID:         req.UserID,
		Title:          req.Title,
		EmbeddingID:    embeddingID,
		ChunkCount:     len(chunks),
		TokensUsed:     estimated,
		ContentPreview: truncateRunes(req.Text, s.cfg.ContentPreviewChars),
	}
	if _, err := s.documents.Create(ctx, nil, doc); err != nil {
		// Vectors are already written; compensate so nothing points at a
		// document record that never existed.
		if delErr := store.DeleteByFilter(ctx, qdrant.Filter{"embedding_id": embeddingID}); delErr != nil {
			s.log.Error("compensating vector delete failed; orphaned vectors remain",
				"embedding_id", embeddingID, "error", delErr)
		}
		return fail(faults.Wrap(faults.KindUnknown, opIngest, err))
	}

	totalTokens := estimated
	if s.cfg.SummarizeOnIngest {
		if summaryTokens := s.summarizeBestEffort(ctx, doc); summaryTokens > 0 {
			totalTokens += summaryTokens
		}
	}
	if err := s.profiles.AddTokensUsed(ctx, nil, req.UserID, totalTokens); err != nil {
		s.log.Error("token usage update failed after ingestion", "user_id", req.UserID, "error", err)
	}

	s.log.Info("document ingested",
		"document_id", documentID,
		"chunks", len(chunks),
		"tokens", totalTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return &IngestResult{
		Success:    true,
		Document:   doc,
		ChunkCount: len(chunks),
		TokensUsed: totalTokens,
	}, nil
}

// summarizeBestEffort generates and stores a short summary. Never fails the
// ingestion.
func (s *ragService) summarizeBestEffort(ctx context.Context, doc *types.Document) int64 {
	generator, err := s.cache.GetGenerationClient()
	if err != nil {
		s.log.Warn("summary skipped; generation client unavailable", "error", err)
		return 0
	}
	res, err := generator.Summarize(ctx, doc.Title, doc.ContentPreview, llm.SummaryShort)
	if err != nil {
		s.log.Warn("summary generation failed", "document_id", doc.ID, "error", err)
		return 0
	}
	if err := s.documents.UpdateSummary(ctx, nil, doc.ID, res.Answer); err != nil {
		s.log.Warn("summary store failed", "document_id", doc.ID, "error", err)
		return 0
	}
	doc.Summary = res.Answer
	return int64(res.TokensUsed)
}

func (s *ragService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, faults.New(faults.KindValidation, opChat, "user id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, faults.New(faults.KindValidation, opChat, "message is required")
	}

	profile, err := s.profiles.EnsureForUser(ctx, nil, req.UserID)
	if err != nil {
		return nil, faults.Wrap(faults.KindUnknown, opChat, err)
	}
	questionTokens := int64(tokens.Estimate(req.Message))
	if profile.RemainingTokens() < questionTokens {
		return nil, faults.New(faults.KindBudget, opChat, fmt.Sprintf(
			"question needs ~%d tokens but only %d remain", questionTokens, profile.RemainingTokens(),
		))
	}

	var doc *types.Document
	if req.DocumentID != nil {
		doc, err = s.documents.GetByIDForUser(ctx, nil, *req.DocumentID, req.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, faults.New(faults.KindValidation, opChat, "document not found")
			}
			return nil, faults.Wrap(faults.KindUnknown, opChat, err)
		}
	}

	history := s.recentHistory(ctx, req)

	answerReq := llm.AnswerRequest{
		Question: req.Message,
		History:  history,
	}
	if doc != nil {
		answerReq.DocumentTitle = doc.Title
	}

	var sources []types.RetrievedChunk
	fallback := false

	embedder, err := s.cache.GetEmbeddingClient()
	if err != nil {
		return nil, err
	}
	queryVectors, err := embedder.Embed(ctx, []string{req.Message}, embeddings.RoleQuery)
	switch {
	case err == nil:
		retrieved, searchErr := s.searchSources(ctx, queryVectors[0], req.UserID, doc)
		if searchErr != nil {
			return nil, searchErr
		}
		sources = retrieved
		for _, r := range retrieved {
			answerReq.Chunks = append(answerReq.Chunks, llm.ScoredChunk{
				Text:       r.Text,
				Score:      r.Score,
				ChunkIndex: r.ChunkIndex,
			})
		}
	case faults.IsRateLimit(err):
		// Degraded path: answer from relational metadata instead of
		// aborting the turn.
		fallback = true
		answerReq.DocumentContent = s.fallbackContext(ctx, req.UserID, doc)
		s.log.Warn("query embedding rate limited; answering without retrieval", "user_id", req.UserID)
	default:
		return nil, err
	}

	generator, err := s.cache.GetGenerationClient()
	if err != nil {
		return nil, err
	}
	var answer string
	var generationTokens int64
	genRes, genErr := generator.Answer(ctx, answerReq)
	switch {
	case genErr == nil:
		answer = genRes.Answer
		generationTokens = int64(genRes.TokensUsed)
	case fallback:
		// Fully degraded: no retrieval and no generation. Still answer.
		answer = apologeticAnswer
	default:
		return nil, genErr
	}

	turnTokens := questionTokens + int64(tokens.Estimate(answer))
	if generationTokens > 0 {
		turnTokens = generationTokens
	}
	entry := s.persistTurn(ctx, req, doc, answer, sources, fallback, turnTokens)

	return &ChatResult{
		ChatID:     entry.ID,
		Answer:     answer,
		Sources:    sources,
		Fallback:   fallback,
		TokensUsed: turnTokens,
	}, nil
}

func (s *ragService) searchSources(ctx context.Context, vector []float32, userID string, doc *types.Document) ([]types.RetrievedChunk, error) {
	store, err := s.cache.GetVectorStore()
	if err != nil {
		return nil, err
	}
	filter := qdrant.Filter{"user_id": userID}
	if doc != nil {
		filter["embedding_id"] = doc.EmbeddingID
	}
	points, err := store.Search(ctx, vector, s.cfg.MaxSources, filter)
	if err != nil {
		return nil, err
	}
	out := make([]types.RetrievedChunk, 0, len(points))
	for _, p := range points {
		chunk := types.RetrievedChunk{ID: p.ID, Score: p.Score}
		if text, ok := p.Payload["text"].(string); ok {
			chunk.Text = text
		}
		switch idx := p.Payload["chunk_index"].(type) {
		case float64:
			chunk.ChunkIndex = int(idx)
		case int:
			chunk.ChunkIndex = idx
		}
		out = append(out, chunk)
	}
	return out, nil
}

// fallbackContext assembles degraded context from relational data only: the
// stored content preview for one document, or titles and dates across the
// user's library.
func (s *ragService) fallbackContext(ctx context.Context, userID string, doc *types.Document) string {
	if doc != nil && strings.TrimSpace(doc.ContentPreview) != "" {
		return doc.ContentPreview
	}
	docs, err := s.documents.ListByUser(ctx, nil, userID)
	if err != nil || len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("The user's documents:\n")
	for _, d := range docs {
		fmt.Fprintf(&b, "- %s (uploaded %s)\n", d.Title, d.CreatedAt.Format("2006-01-02"))
	}
	return b.String()
}

func (s *ragService) recentHistory(ctx context.Context, req ChatRequest) []llm.QA {
	docKey := ""
	if req.DocumentID != nil {
		docKey = req.DocumentID.String()
	}
	if cached, ok := s.history.Recent(ctx, req.UserID, docKey, s.cfg.HistoryTurns); ok {
		return cached
	}
	if req.DocumentID == nil {
		return nil
	}
	turns, err := s.chats.RecentForDocument(ctx, nil, req.UserID, *req.DocumentID, s.cfg.HistoryTurns)
	if err != nil {
		s.log.Warn("history lookup failed", "user_id", req.UserID, "error", err)
		return nil
	}
	out := make([]llm.QA, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.QA{Question: t.Message, Answer: t.Response})
	}
	return out
}

// persistTurn appends the Chat row and charges the budget. Runs on every
// path, degraded included; persistence failures are logged, not surfaced,
// because the user already has an answer.
func (s *ragService) persistTurn(
	ctx context.Context,
	req ChatRequest,
	doc *types.Document,
	answer string,
	sources []types.RetrievedChunk,
	fallback bool,
	turnTokens int64,
) *types.Chat {
	entry := &types.Chat{
		UserID:     req.UserID,
		DocumentID: req.DocumentID,
		Message:    req.Message,
		Response:   answer,
		TokensUsed: int(turnTokens),
		Fallback:   fallback,
	}
	if len(sources) > 0 {
		if raw, err := json.Marshal(sources); err == nil {
			entry.Sources = raw
		}
	}
	if _, err := s.chats.Create(ctx, nil, entry); err != nil {
		s.log.Error("chat persistence failed", "user_id", req.UserID, "error", err)
	}
	if err := s.profiles.AddTokensUsed(ctx, nil, req.UserID, turnTokens); err != nil {
		s.log.Error("token usage update failed after chat", "user_id", req.UserID, "error", err)
	}

	docKey := ""
	if doc != nil {
		docKey = doc.ID.String()
	}
	s.history.Push(ctx, req.UserID, docKey, llm.QA{Question: req.Message, Answer: answer})
	return entry
}

func (s *ragService) ListDocuments(ctx context.Context, userID string) ([]*types.Document, error) {
	return s.documents.ListByUser(ctx, nil, userID)
}

func (s *ragService) DeleteDocument(ctx context.Context, userID string, id uuid.UUID) error {
	doc, err := s.documents.GetByIDForUser(ctx, nil, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return faults.New(faults.KindValidation, opDelete, "document not found")
		}
		return faults.Wrap(faults.KindUnknown, opDelete, err)
	}

	store, err := s.cache.GetVectorStore()
	if err != nil {
		return err
	}
	if err := store.DeleteByFilter(ctx, qdrant.Filter{
		"user_id":      userID,
		"embedding_id": doc.EmbeddingID,
	}); err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, nil, id, userID); err != nil {
		return faults.Wrap(faults.KindUnknown, opDelete, err)
	}
	s.history.Drop(ctx, userID, id.String())
	s.log.Info("document deleted", "document_id", id, "user_id", userID)
	return nil
}

func (s *ragService) SummarizeDocument(ctx context.Context, userID string, id uuid.UUID, length llm.SummaryLength) (string, error) {
	doc, err := s.documents.GetByIDForUser(ctx, nil, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", faults.New(faults.KindValidation, opSummarize, "document not found")
		}
		return "", faults.Wrap(faults.KindUnknown, opSummarize, err)
	}
	if strings.TrimSpace(doc.ContentPreview) == "" {
		return "", faults.New(faults.KindValidation, opSummarize, "document has no stored text to summarize")
	}

	generator, err := s.cache.GetGenerationClient()
	if err != nil {
		return "", err
	}
	res, err := generator.Summarize(ctx, doc.Title, doc.ContentPreview, length)
	if err != nil {
		return "", err
	}
	if err := s.documents.UpdateSummary(ctx, nil, id, res.Answer); err != nil {
		return "", faults.Wrap(faults.KindUnknown, opSummarize, err)
	}
	if err := s.profiles.AddTokensUsed(ctx, nil, userID, int64(res.TokensUsed)); err != nil {
		s.log.Error("token usage update failed after summary", "user_id", userID, "error", err)
	}
	return res.Answer, nil
}

func (s *ragService) ListChats(ctx context.Context, userID string, documentID *uuid.UUID, limit, offset int) ([]*types.Chat, error) {
	return s.chats.ListByUser(ctx, nil, userID, documentID, limit, offset)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
