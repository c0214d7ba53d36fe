package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/embeddings"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/llm"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/qdrant"
)

const (
	slotEmbeddings = "embeddings"
	slotVector     = "vector_store"
	slotGeneration = "generation"
)

// ServiceCacheConstructors supplies one factory per external client. The
// composition root owns the factories so tests can swap in fakes.
type ServiceCacheConstructors struct {
	NewEmbeddingClient  func() (embeddings.Client, error)
	NewVectorStore      func() (qdrant.Store, error)
	NewGenerationClient func() (llm.Client, error)
}

type cacheSlot struct {
	value     any
	createdAt time.Time
}

// ServiceCache hands out external clients, rebuilding each after maxAge.
// Construction is single-flight: concurrent callers during a rebuild share
// one in-flight construction instead of racing their own.
type ServiceCache struct {
	log    *logger.Logger
	maxAge time.Duration
	cons   ServiceCacheConstructors

	sf    singleflight.Group
	mu    sync.Mutex
	slots map[string]cacheSlot

	now func() time.Time
}

func NewServiceCache(log *logger.Logger, maxAge time.Duration, cons ServiceCacheConstructors) *ServiceCache {
	if log == nil {
		log = logger.Nop()
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &ServiceCache{
		log:    log.With("component", "service_cache"),
		maxAge: maxAge,
		cons:   cons,
		slots:  make(map[string]cacheSlot),
		now:    time.Now,
	}
}

func (c *ServiceCache) GetEmbeddingClient() (embeddings.Client, error) {
	v, err := c.get(slotEmbeddings, func() (any, error) { return c.cons.NewEmbeddingClient() })
	if err != nil {
		return nil, err
	}
	return v.(embeddings.Client), nil
}

func (c *ServiceCache) GetVectorStore() (qdrant.Store, error) {
	v, err := c.get(slotVector, func() (any, error) { return c.cons.NewVectorStore() })
	if err != nil {
		return nil, err
	}
	return v.(qdrant.Store), nil
}

func (c *ServiceCache) GetGenerationClient() (llm.Client, error) {
	v, err := c.get(slotGeneration, func() (any, error) { return c.cons.NewGenerationClient() })
	if err != nil {
		return nil, err
	}
	return v.(llm.Client), nil
}

func (c *ServiceCache) get(key string, build func() (any, error)) (any, error) {
	c.mu.Lock()
	slot, ok := c.slots[key]
	if ok && c.now().Sub(slot.createdAt) < c.maxAge {
		c.mu.Unlock()
		return slot.value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// Another caller may have finished the rebuild while this one was
		// queued on the flight group.
		c.mu.Lock()
		slot, ok := c.slots[key]
		if ok && c.now().Sub(slot.createdAt) < c.maxAge {
			c.mu.Unlock()
			return slot.value, nil
		}
		c.mu.Unlock()

		built, err := build()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.slots[key] = cacheSlot{value: built, createdAt: c.now()}
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate drops every cached client and starts a best-effort rebuild so
// the next request does not pay full construction cost.
func (c *ServiceCache) Invalidate() {
	c.mu.Lock()
	c.slots = make(map[string]cacheSlot)
	c.mu.Unlock()
	c.log.Info("service cache invalidated")
	go c.warmup()
}

// Warmup pre-builds all clients in the background. Failures are logged and
// never block startup.
func (c *ServiceCache) Warmup() {
	go c.warmup()
}

func (c *ServiceCache) warmup() {
	if c.cons.NewEmbeddingClient != nil {
		if _, err := c.GetEmbeddingClient(); err != nil {
			c.log.Warn("embedding client warmup failed", "error", err)
		}
	}
	if c.cons.NewVectorStore != nil {
		if _, err := c.GetVectorStore(); err != nil {
			c.log.Warn("vector store warmup failed", "error", err)
		}
	}
	if c.cons.NewGenerationClient != nil {
		if _, err := c.GetGenerationClient(); err != nil {
			c.log.Warn("generation client warmup failed", "error", err)
		}
	}
}

// HealthCheck pings whichever clients are currently constructible.
func (c *ServiceCache) HealthCheck(ctx context.Context) bool {
	healthy := true
	if c.cons.NewVectorStore != nil {
		store, err := c.GetVectorStore()
		if err != nil || !store.HealthCheck(ctx) {
			healthy = false
		}
	}
	if c.cons.NewEmbeddingClient != nil {
		client, err := c.GetEmbeddingClient()
		if err != nil || !client.HealthCheck(ctx) {
			healthy = false
		}
	}
	return healthy
}
