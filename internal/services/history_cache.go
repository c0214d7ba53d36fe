package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/envutil"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/llm"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

const historyKeyPrefix = "chat:history"

// HistoryCache keeps the last few question/answer pairs per user/document in
// Redis so the degraded chat path can build context without a repo query.
// Redis is optional: a nil client makes every method a no-op and callers fall
// back to the relational log.
type HistoryCache struct {
	log   *logger.Logger
	rdb   *goredis.Client
	ttl   time.Duration
	limit int
}

func NewHistoryCache(log *logger.Logger, rdb *goredis.Client) *HistoryCache {
	if log == nil {
		log = logger.Nop()
	}
	return &HistoryCache{
		log:   log.With("component", "history_cache"),
		rdb:   rdb,
		ttl:   24 * time.Hour,
		limit: 10,
	}
}

// NewRedisClientFromEnv returns nil without error when REDIS_ADDR is unset;
// history caching is simply disabled in that deployment.
func NewRedisClientFromEnv() *goredis.Client {
	addr := envutil.String("REDIS_ADDR", "")
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
}

func historyKey(userID, documentID string) string {
	if strings.TrimSpace(documentID) == "" {
		documentID = "all"
	}
	return fmt.Sprintf("%s:%s:%s", historyKeyPrefix, userID, documentID)
}

// Push records one completed turn. Best effort: failures are logged, never
// surfaced.
func (h *HistoryCache) Push(ctx context.Context, userID, documentID string, qa llm.QA) {
	if h == nil || h.rdb == nil {
		return
	}
	raw, err := json.Marshal(qa)
	if err != nil {
		return
	}
	key := historyKey(userID, documentID)
	pipe := h.rdb.Pipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, int64(h.limit-1))
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn("history cache push failed", "error", err)
	}
}

// Recent returns up to n pairs in chronological order. ok is false when the
// cache is disabled or unreachable so the caller can fall back.
func (h *HistoryCache) Recent(ctx context.Context, userID, documentID string, n int) ([]llm.QA, bool) {
	if h == nil || h.rdb == nil || n <= 0 {
		return nil, false
	}
	raws, err := h.rdb.LRange(ctx, historyKey(userID, documentID), 0, int64(n-1)).Result()
	if err != nil {
		h.log.Warn("history cache read failed", "error", err)
		return nil, false
	}
	if len(raws) == 0 {
		return nil, false
	}
	out := make([]llm.QA, 0, len(raws))
	// LPUSH stores newest first; reverse into chronological order.
	for i := len(raws) - 1; i >= 0; i-- {
		var qa llm.QA
		if err := json.Unmarshal([]byte(raws[i]), &qa); err != nil {
			continue
		}
		out = append(out, qa)
	}
	return out, true
}

// Drop clears the cached history for one user/document pair.
func (h *HistoryCache) Drop(ctx context.Context, userID, documentID string) {
	if h == nil || h.rdb == nil {
		return
	}
	if err := h.rdb.Del(ctx, historyKey(userID, documentID)).Err(); err != nil {
		h.log.Warn("history cache drop failed", "error", err)
	}
}
