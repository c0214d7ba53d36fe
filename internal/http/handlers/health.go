package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/services"
)

type HealthHandler struct {
	db    *gorm.DB
	cache *services.ServiceCache
}

func NewHealthHandler(db *gorm.DB, cache *services.ServiceCache) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// GET /healthz
func (h *HealthHandler) Live(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /readyz
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			c.String(http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if h.cache != nil && !h.cache.HealthCheck(ctx) {
		c.String(http.StatusServiceUnavailable, "upstream services unavailable")
		return
	}
	c.String(http.StatusOK, "ready")
}
