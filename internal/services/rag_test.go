package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/embeddings"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/llm"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/qdrant"
)

type fakeProfiles struct {
	profile     *types.UserProfile
	tokensAdded []int64
}

func (f *fakeProfiles) EnsureForUser(ctx context.Context, tx *gorm.DB, userID string) (*types.UserProfile, error) {
	return f.profile, nil
}

func (f *fakeProfiles) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*types.UserProfile, error) {
	return f.profile, nil
}

func (f *fakeProfiles) AddTokensUsed(ctx context.Context, tx *gorm.DB, userID string, tokens int64) error {
	f.tokensAdded = append(f.tokensAdded, tokens)
	return nil
}

func (f *fakeProfiles) SetPlan(ctx context.Context, tx *gorm.DB, userID, plan string, tokensLimit int64) error {
	return nil
}

type fakeDocuments struct {
	docs      map[uuid.UUID]*types.Document
	createErr error
	created   []*types.Document
	summaries map[uuid.UUID]string
	deleted   []uuid.UUID
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		docs:      map[uuid.UUID]*types.Document{},
		summaries: map[uuid.UUID]string{},
	}
}

func (f *fakeDocuments) Create(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	f.docs[doc.ID] = doc
	f.created = append(f.created, doc)
	return doc, nil
}

func (f *fakeDocuments) GetByIDForUser(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID string) (*types.Document, error) {
	doc, ok := f.docs[id]
	if !ok || doc.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}

func (f *fakeDocuments) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.Document, error) {
	var out []*types.Document
	for _, d := range f.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocuments) UpdateSummary(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary string) error {
	f.summaries[id] = summary
	return nil
}

func (f *fakeDocuments) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID string) error {
	f.deleted = append(f.deleted, id)
	delete(f.docs, id)
	return nil
}

type fakeChats struct {
	created []*types.Chat
	recent  []*types.Chat
}

func (f *fakeChats) Create(ctx context.Context, tx *gorm.DB, entry *types.Chat) (*types.Chat, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	f.created = append(f.created, entry)
	return entry, nil
}

func (f *fakeChats) ListByUser(ctx context.Context, tx *gorm.DB, userID string, documentID *uuid.UUID, limit, offset int) ([]*types.Chat, error) {
	return f.created, nil
}

func (f *fakeChats) RecentForDocument(ctx context.Context, tx *gorm.DB, userID string, documentID uuid.UUID, n int) ([]*types.Chat, error) {
	return f.recent, nil
}

type fakeEmbedder struct {
	dim       int
	queryErr  error
	calls     []embedCall
	vectorFor func(text string) []float32
}

type embedCall struct {
	texts []string
	role  embeddings.Role
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, role embeddings.Role) ([][]float32, error) {
	f.calls = append(f.calls, embedCall{texts: texts, role: role})
	if role == embeddings.RoleQuery && f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.vectorFor != nil {
			out[i] = f.vectorFor(t)
		} else {
			out[i] = []float32{float32(len(t)), 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension(ctx context.Context) (int, error) {
	if f.dim == 0 {
		return 2, nil
	}
	return f.dim, nil
}

func (f *fakeEmbedder) HealthCheck(ctx context.Context) bool { return true }

type fakeStore struct {
	ensuredDims []int
	upserted    [][]qdrant.Point
	searches    []searchCall
	results     []qdrant.ScoredPoint
	deletes     []qdrant.Filter
}

type searchCall struct {
	vector []float32
	limit  int
	filter qdrant.Filter
}

func (f *fakeStore) EnsureCollection(ctx context.Context, dim int) error {
	f.ensuredDims = append(f.ensuredDims, dim)
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, points []qdrant.Point) error {
	f.upserted = append(f.upserted, points)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, limit int, filter qdrant.Filter) ([]qdrant.ScoredPoint, error) {
	f.searches = append(f.searches, searchCall{vector: vector, limit: limit, filter: filter})
	return f.results, nil
}

func (f *fakeStore) DeleteByFilter(ctx context.Context, filter qdrant.Filter) error {
	f.deletes = append(f.deletes, filter)
	return nil
}

func (f *fakeStore) Count(ctx context.Context, filter qdrant.Filter) (int, error) {
	return 0, nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) bool { return true }

type fakeLLM struct {
	answerReqs []llm.AnswerRequest
	answerErr  error
	answer     string
	summary    string
	tokens     int
}

func (f *fakeLLM) Answer(ctx context.Context, req llm.AnswerRequest) (llm.AnswerResult, error) {
	f.answerReqs = append(f.answerReqs, req)
	if f.answerErr != nil {
		return llm.AnswerResult{}, f.answerErr
	}
	answer := f.answer
	if answer == "" {
		answer = "grounded answer"
	}
	return llm.AnswerResult{Answer: answer, TokensUsed: f.tokens}, nil
}

func (f *fakeLLM) Summarize(ctx context.Context, title, content string, length llm.SummaryLength) (llm.AnswerResult, error) {
	summary := f.summary
	if summary == "" {
		summary = "a short summary"
	}
	return llm.AnswerResult{Answer: summary, TokensUsed: f.tokens}, nil
}

func (f *fakeLLM) HealthCheck(ctx context.Context) bool { return true }

type ragFixture struct {
	profiles  *fakeProfiles
	documents *fakeDocuments
	chats     *fakeChats
	embedder  *fakeEmbedder
	store     *fakeStore
	generator *fakeLLM
	svc       RAGService
}

func newRAGFixture(t *testing.T, cfg RAGConfig) *ragFixture {
	t.Helper()
	f := &ragFixture{
		profiles: &fakeProfiles{profile: &types.UserProfile{
			UserID:      "user-1",
			Plan:        types.PlanFree,
			TokensLimit: types.DefaultFreeTokens,
		}},
		documents: newFakeDocuments(),
		chats:     &fakeChats{},
		embedder:  &fakeEmbedder{},
		store:     &fakeStore{},
		generator: &fakeLLM{},
	}
	log := logger.Nop()
	cache := NewServiceCache(log, time.Hour, ServiceCacheConstructors{
		NewEmbeddingClient:  func() (embeddings.Client, error) { return f.embedder, nil },
		NewVectorStore:      func() (qdrant.Store, error) { return f.store, nil },
		NewGenerationClient: func() (llm.Client, error) { return f.generator, nil },
	})
	f.svc = NewRAGService(log, cfg, cache, f.profiles, f.documents, f.chats, NewHistoryCache(log, nil))
	return f
}

func (f *ragFixture) seedDocument(t *testing.T, preview string) *types.Document {
	t.Helper()
	doc := &types.Document{
		ID:             uuid.New(),
		UserID:         "user-1",
		Title:          "Quarterly Report",
		EmbeddingID:    uuid.NewString(),
		ContentPreview: preview,
	}
	f.documents.docs[doc.ID] = doc
	return doc
}

func ingestText() string {
	return strings.Repeat("The quick brown fox jumps over the lazy dog. ", 120)
}

func TestIngestDocumentStoresChunksAndCharges(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{SummarizeOnIngest: true})

	res, err := f.svc.IngestDocument(context.Background(), IngestRequest{
		UserID: "user-1",
		Title:  "Quarterly Report",
		Text:   ingestText(),
	})
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if !res.Success || res.ChunkCount == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.store.ensuredDims) != 1 || f.store.ensuredDims[0] != 2 {
		t.Fatalf("EnsureCollection dims = %v", f.store.ensuredDims)
	}

	if len(f.embedder.calls) == 0 || f.embedder.calls[0].role != embeddings.RoleDocument {
		t.Fatalf("chunks should embed with the document role, calls %+v", f.embedder.calls)
	}
	if len(f.store.upserted) != 1 || len(f.store.upserted[0]) != res.ChunkCount {
		t.Fatalf("upsert should carry one point per chunk")
	}
	p := f.store.upserted[0][0]
	doc := res.Document
	for key, want := range map[string]any{
		"document_id":  doc.ID.String(),
		"user_id":      "user-1",
		"embedding_id": doc.EmbeddingID,
		"chunk_index":  0,
	} {
		if p.Payload[key] != want {
			t.Fatalf("payload[%s] = %v, want %v", key, p.Payload[key], want)
		}
	}
	if _, ok := p.Payload["text"].(string); !ok {
		t.Fatalf("payload should carry the chunk text")
	}

	if doc.ChunkCount != res.ChunkCount || doc.ContentPreview == "" {
		t.Fatalf("document row incomplete: %+v", doc)
	}
	if f.documents.summaries[doc.ID] == "" {
		t.Fatalf("ingestion should store a best-effort summary")
	}
	if len(f.profiles.tokensAdded) != 1 || f.profiles.tokensAdded[0] < res.TokensUsed-1 {
		t.Fatalf("budget charge missing: %v", f.profiles.tokensAdded)
	}
}

func TestIngestDocumentCompensatesVectorsOnCreateFailure(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	f.documents.createErr = errors.New("connection reset")

	res, err := f.svc.IngestDocument(context.Background(), IngestRequest{
		UserID: "user-1",
		Title:  "Quarterly Report",
		Text:   ingestText(),
	})
	if err == nil || res.Success {
		t.Fatalf("expected failure when the document row cannot be written")
	}
	if len(f.store.upserted) != 1 {
		t.Fatalf("vectors should have been written before the row failed")
	}
	if len(f.store.deletes) != 1 {
		t.Fatalf("orphaned vectors must be deleted, got %v deletes", len(f.store.deletes))
	}
	if _, ok := f.store.deletes[0]["embedding_id"]; !ok {
		t.Fatalf("compensating delete must scope by embedding id: %v", f.store.deletes[0])
	}
	if len(f.profiles.tokensAdded) != 0 {
		t.Fatalf("failed ingestion must not charge the budget")
	}
}

func TestIngestDocumentRejectsShortText(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})

	_, err := f.svc.IngestDocument(context.Background(), IngestRequest{
		UserID: "user-1",
		Title:  "Note",
		Text:   "too short",
	})
	if faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("kind = %v, want validation", faults.KindOf(err))
	}
	if len(f.embedder.calls) != 0 {
		t.Fatalf("short documents must not reach the embedder")
	}
}

func TestIngestDocumentRefusesOverBudget(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	f.profiles.profile.TokensUsed = f.profiles.profile.TokensLimit - 1

	_, err := f.svc.IngestDocument(context.Background(), IngestRequest{
		UserID: "user-1",
		Title:  "Quarterly Report",
		Text:   ingestText(),
	})
	if faults.KindOf(err) != faults.KindBudget {
		t.Fatalf("kind = %v, want budget", faults.KindOf(err))
	}
	if len(f.embedder.calls) != 0 {
		t.Fatalf("over-budget ingestion must not call providers")
	}
}

func TestChatRetrievesTopKScopedToDocument(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{MaxSources: 3})
	doc := f.seedDocument(t, "preview text")
	f.store.results = []qdrant.ScoredPoint{
		{ID: "c_0", Score: 0.91, Payload: map[string]any{"text": "alpha", "chunk_index": float64(0)}},
		{ID: "c_4", Score: 0.82, Payload: map[string]any{"text": "beta", "chunk_index": float64(4)}},
	}

	res, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:     "user-1",
		Message:    "what changed this quarter?",
		DocumentID: &doc.ID,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Fallback {
		t.Fatalf("healthy path must not report fallback")
	}

	if len(f.store.searches) != 1 {
		t.Fatalf("expected one search, got %d", len(f.store.searches))
	}
	search := f.store.searches[0]
	if search.limit != 3 {
		t.Fatalf("search limit = %d, want 3", search.limit)
	}
	if search.filter["user_id"] != "user-1" || search.filter["embedding_id"] != doc.EmbeddingID {
		t.Fatalf("search filter = %v", search.filter)
	}

	if len(res.Sources) != 2 || res.Sources[0].Text != "alpha" || res.Sources[1].ChunkIndex != 4 {
		t.Fatalf("sources = %+v", res.Sources)
	}
	req := f.generator.answerReqs[0]
	if len(req.Chunks) != 2 || req.DocumentTitle != doc.Title || req.DocumentContent != "" {
		t.Fatalf("answer request = %+v", req)
	}

	if len(f.chats.created) != 1 {
		t.Fatalf("turn must be persisted")
	}
	entry := f.chats.created[0]
	if entry.Fallback || entry.Response != res.Answer {
		t.Fatalf("persisted entry = %+v", entry)
	}
	var persisted []types.RetrievedChunk
	if err := json.Unmarshal(entry.Sources, &persisted); err != nil || len(persisted) != 2 {
		t.Fatalf("persisted sources = %s (%v)", entry.Sources, err)
	}
	if len(f.profiles.tokensAdded) != 1 {
		t.Fatalf("token charge missing")
	}
}

func TestChatFallsBackWhenQueryEmbeddingRateLimited(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	doc := f.seedDocument(t, "The report covers revenue and hiring.")
	f.embedder.queryErr = faults.New(faults.KindRateLimit, "embeddings.embed", "rate limited")

	res, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:     "user-1",
		Message:    "what does it cover?",
		DocumentID: &doc.ID,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !res.Fallback {
		t.Fatalf("rate-limited embedding must degrade, not fail")
	}
	if len(res.Sources) != 0 {
		t.Fatalf("degraded path has no retrieval sources")
	}
	if len(f.store.searches) != 0 {
		t.Fatalf("degraded path must not search")
	}

	req := f.generator.answerReqs[0]
	if len(req.Chunks) != 0 || req.DocumentContent != doc.ContentPreview {
		t.Fatalf("degraded answer request = %+v", req)
	}

	entry := f.chats.created[0]
	if !entry.Fallback || len(entry.Sources) != 0 {
		t.Fatalf("persisted degraded entry = %+v", entry)
	}
	if len(f.profiles.tokensAdded) != 1 {
		t.Fatalf("degraded turns still charge the budget")
	}
}

func TestChatFallsBackToLibraryMetadataWithoutDocument(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	f.seedDocument(t, "preview")
	f.embedder.queryErr = faults.New(faults.KindRateLimit, "embeddings.embed", "rate limited")

	res, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:  "user-1",
		Message: "what do I have uploaded?",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !res.Fallback {
		t.Fatalf("expected fallback")
	}
	req := f.generator.answerReqs[0]
	if !strings.Contains(req.DocumentContent, "Quarterly Report") {
		t.Fatalf("library metadata missing from degraded context: %q", req.DocumentContent)
	}
}

func TestChatApologizesWhenDegradedGenerationFails(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	doc := f.seedDocument(t, "preview")
	f.embedder.queryErr = faults.New(faults.KindRateLimit, "embeddings.embed", "rate limited")
	f.generator.answerErr = faults.New(faults.KindTransient, "llm.answer", "upstream timeout")

	res, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:     "user-1",
		Message:    "anything?",
		DocumentID: &doc.ID,
	})
	if err != nil {
		t.Fatalf("fully degraded turn must still answer: %v", err)
	}
	if res.Answer != apologeticAnswer || !res.Fallback {
		t.Fatalf("result = %+v", res)
	}
	if len(f.chats.created) != 1 || f.chats.created[0].Response != apologeticAnswer {
		t.Fatalf("apologetic turn must still be persisted")
	}
}

func TestChatGenerationFailureOnHealthyPathPropagates(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	f.generator.answerErr = faults.New(faults.KindTransient, "llm.answer", "upstream timeout")

	_, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:  "user-1",
		Message: "anything?",
	})
	if faults.KindOf(err) != faults.KindTransient {
		t.Fatalf("kind = %v, want transient", faults.KindOf(err))
	}
	if len(f.chats.created) != 0 {
		t.Fatalf("failed healthy turns are not persisted")
	}
}

func TestChatRefusesOverBudget(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	f.profiles.profile.TokensUsed = f.profiles.profile.TokensLimit

	_, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:  "user-1",
		Message: "one more question",
	})
	if faults.KindOf(err) != faults.KindBudget {
		t.Fatalf("kind = %v, want budget", faults.KindOf(err))
	}
	if len(f.embedder.calls) != 0 || len(f.chats.created) != 0 {
		t.Fatalf("over-budget turns must not reach providers or persist")
	}
}

func TestChatReplaysRecentHistory(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	doc := f.seedDocument(t, "preview")
	f.chats.recent = []*types.Chat{
		{Message: "q1", Response: "a1"},
		{Message: "q2", Response: "a2"},
	}

	if _, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:     "user-1",
		Message:    "q3",
		DocumentID: &doc.ID,
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	req := f.generator.answerReqs[0]
	if len(req.History) != 2 || req.History[0].Question != "q1" || req.History[1].Answer != "a2" {
		t.Fatalf("history = %+v", req.History)
	}
}

func TestChatRejectsForeignDocument(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	other := uuid.New()
	f.documents.docs[other] = &types.Document{ID: other, UserID: "someone-else", Title: "theirs"}

	_, err := f.svc.Chat(context.Background(), ChatRequest{
		UserID:     "user-1",
		Message:    "show me",
		DocumentID: &other,
	})
	if faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("kind = %v, want validation", faults.KindOf(err))
	}
}

func TestDeleteDocumentRemovesVectorsAndRow(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	doc := f.seedDocument(t, "preview")

	if err := f.svc.DeleteDocument(context.Background(), "user-1", doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(f.store.deletes) != 1 {
		t.Fatalf("vector delete missing")
	}
	filter := f.store.deletes[0]
	if filter["embedding_id"] != doc.EmbeddingID || filter["user_id"] != "user-1" {
		t.Fatalf("delete filter = %v", filter)
	}
	if len(f.documents.deleted) != 1 || f.documents.deleted[0] != doc.ID {
		t.Fatalf("row delete missing")
	}
}

func TestDeleteDocumentRejectsForeignOwner(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	doc := f.seedDocument(t, "preview")

	err := f.svc.DeleteDocument(context.Background(), "intruder", doc.ID)
	if faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("kind = %v, want validation", faults.KindOf(err))
	}
	if len(f.store.deletes) != 0 || len(f.documents.deleted) != 0 {
		t.Fatalf("foreign delete must not touch storage")
	}
}

func TestSummarizeDocumentStoresAndCharges(t *testing.T) {
	f := newRAGFixture(t, RAGConfig{})
	doc := f.seedDocument(t, "long stored preview text")
	f.generator.summary = "a crisp summary"
	f.generator.tokens = 42

	summary, err := f.svc.SummarizeDocument(context.Background(), "user-1", doc.ID, llm.SummaryMedium)
	if err != nil {
		t.Fatalf("SummarizeDocument: %v", err)
	}
	if summary != "a crisp summary" || f.documents.summaries[doc.ID] != summary {
		t.Fatalf("summary not stored: %q", summary)
	}
	if len(f.profiles.tokensAdded) != 1 || f.profiles.tokensAdded[0] != 42 {
		t.Fatalf("summary tokens not charged: %v", f.profiles.tokensAdded)
	}
}
