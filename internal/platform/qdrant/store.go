package qdrant

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

	"github.com/google/uuid"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/ctxutil"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

const (
	// payloadChunkIDKey stores the caller-assigned chunk id; Qdrant point
	// ids must be UUIDs or integers, so the original id rides along in the
	// payload and point ids are derived deterministically from it.
	payloadChunkIDKey = "_cw_chunk_id"
	maxErrorBodyBytes = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("6ba0f52e-98d1-4a77-9c0d-2f40f4f1d6b3")

// indexedPayloadFields get keyword payload indexes at collection creation so
// the per-user and per-document filters stay fast.
var indexedPayloadFields = []string{"user_id", "embedding_id", "document_id"}

type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type Store interface {
	// EnsureCollection creates the collection with the given vector width
	// when it does not exist, and verifies the width when it does.
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]ScoredPoint, error)
	DeleteByFilter(ctx context.Context, filter Filter) error
	Count(ctx context.Context, filter Filter) (int, error)
	HealthCheck(ctx context.Context) bool
}

type store struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client

	mu       sync.RWMutex
	dim      int
	distance string
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewStore(log *logger.Logger, cfg Config) (Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s := &store{
		log:     log.With("component", "qdrant_store", "collection", cfg.Collection),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		dim:     cfg.VectorDim,
	}
	return s, nil
}

func (s *store) EnsureCollection(ctx context.Context, dim int) error {
	const op = "qdrant.ensure_collection"
	if dim <= 0 {
		return faults.New(faults.KindValidation, op, "vector dimension must be positive")
	}

	var listing struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, "/collections", nil, &listing); err != nil {
		return err
	}
	exists := false
	for _, c := range listing.Collections {
		if c.Name == s.cfg.Collection {
			exists = true
			break
		}
	}
	if exists {
		var info struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		}
		if err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &info); err != nil {
			return err
		}
		size := info.Config.Params.Vectors.Size
		if size != 0 && size != dim {
			return faults.Schema(op, fmt.Sprintf(
				"collection %q vector size mismatch: expected=%d actual=%d",
				s.cfg.Collection, dim, size,
			))
		}
		s.setDims(dim, info.Config.Params.Vectors.Distance)
		return nil
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), create, nil); err != nil {
		return err
	}
	s.setDims(dim, "Cosine")
	s.log.Info("created qdrant collection", "dim", dim)

	for _, field := range indexedPayloadFields {
		idxReq := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), idxReq, nil); err != nil {
			// Index creation is an optimization; the collection works
			// without it.
			s.log.Warn("payload index creation failed", "field", field, "error", err)
		}
	}
	return nil
}

func (s *store) Upsert(ctx context.Context, points []Point) error {
	const op = "qdrant.upsert"
	if len(points) == 0 {
		return nil
	}
	dim := s.currentDim()

	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return faults.New(faults.KindValidation, op, "point id is required")
		}
		if len(p.Vector) == 0 {
			return faults.New(faults.KindValidation, op, fmt.Sprintf("point %q has an empty vector", id))
		}
		if dim > 0 && len(p.Vector) != dim {
			return faults.New(faults.KindValidation, op, fmt.Sprintf(
				"point %q dimension mismatch: expected=%d got=%d", id, dim, len(p.Vector),
			))
		}
		payload := clonePayload(p.Payload)
		payload[payloadChunkIDKey] = id
		body = append(body, map[string]any{
			"id":      s.pointID(id),
			"vector":  p.Vector,
			"payload": payload,
		})
	}

	req := map[string]any{"points": body}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *store) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	const op = "qdrant.search"
	if len(vector) == 0 {
		return nil, faults.New(faults.KindValidation, op, "query vector required")
	}
	if dim := s.currentDim(); dim > 0 && len(vector) != dim {
		return nil, faults.New(faults.KindValidation, op, fmt.Sprintf(
			"query vector dimension mismatch: expected=%d got=%d", dim, len(vector),
		))
	}
	if limit <= 0 {
		limit = 10
	}
	filterMap, err := filter.asMap()
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if filterMap != nil {
		req["filter"] = filterMap
	}
	var items []searchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &items); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(items))
	for _, item := range items {
		id := extractChunkID(item)
		if id == "" {
			continue
		}
		out = append(out, ScoredPoint{
			ID:      id,
			Score:   s.normalizeScore(item.Score),
			Payload: item.Payload,
		})
	}
	// Qdrant already returns score-descending; the stable sort only guards
	// against a misbehaving provider and keeps provider order on ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *store) DeleteByFilter(ctx context.Context, filter Filter) error {
	const op = "qdrant.delete_by_filter"
	filterMap, err := filter.asMap()
	if err != nil {
		return err
	}
	if filterMap == nil {
		// An empty filter would wipe the collection.
		return faults.New(faults.KindValidation, op, "delete filter must not be empty")
	}
	req := map[string]any{"filter": filterMap}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *store) Count(ctx context.Context, filter Filter) (int, error) {
	const op = "qdrant.count"
	filterMap, err := filter.asMap()
	if err != nil {
		return 0, err
	}
	req := map[string]any{"exact": true}
	if filterMap != nil {
		req["filter"] = filterMap
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/count"), req, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (s *store) HealthCheck(ctx context.Context) bool {
	const op = "qdrant.health_check"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return false
	}
	s.authorize(req)
	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Warn("qdrant readiness probe failed", "error", err)
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return faults.Wrap(faults.KindUnknown, op, err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return faults.Wrap(faults.KindUnknown, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindTransient, op, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return faults.Wrap(faults.KindTransient, op, readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(op, resp.StatusCode, truncateBody(raw))
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return faults.Wrap(faults.KindSchema, op, err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &faults.Error{
			Kind:       faults.KindSchema,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return faults.Wrap(faults.KindSchema, op, err)
	}
	return nil
}

// classifyStatus maps Qdrant HTTP failures onto the shared taxonomy. Bad
// request bodies are schema failures because Qdrant only rejects shapes it
// cannot store or index.
func classifyStatus(op string, status int, body string) error {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e := faults.Schema(op, body)
		e.StatusCode = status
		return e
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &faults.Error{Kind: faults.KindAuth, Operation: op, StatusCode: status, Message: body}
	case status == http.StatusNotFound:
		return &faults.Error{Kind: faults.KindValidation, Operation: op, StatusCode: status, Message: body}
	case status == http.StatusTooManyRequests:
		return &faults.Error{Kind: faults.KindRateLimit, Operation: op, StatusCode: status, Message: body}
	default:
		return &faults.Error{Kind: faults.KindTransient, Operation: op, StatusCode: status, Message: body}
	}
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *store) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *store) pointID(chunkID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(s.cfg.Collection+"|"+chunkID)).String()
}

func (s *store) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func (s *store) setDims(dim int, distance string) {
	s.mu.Lock()
	s.dim = dim
	s.distance = strings.TrimSpace(distance)
	s.mu.Unlock()
}

func (s *store) currentDim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func extractChunkID(item searchResultItem) string {
	if payloadID, ok := item.Payload[payloadChunkIDKey].(string); ok {
		if id := strings.TrimSpace(payloadID); id != "" {
			return id
		}
	}
	if len(item.ID) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(item.ID, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(item.ID, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(item.ID))
}

func (s *store) normalizeScore(score float64) float64 {
	s.mu.RLock()
	distance := s.distance
	s.mu.RUnlock()
	switch strings.ToLower(distance) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}
