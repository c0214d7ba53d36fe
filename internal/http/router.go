package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/chatwithpdf/chatwithpdf-backend/internal/http/handlers"
	httpMW "github.com/chatwithpdf/chatwithpdf-backend/internal/http/middleware"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	DocumentHandler *httpH.DocumentHandler
	ChatHandler     *httpH.ChatHandler
	HealthHandler   *httpH.HealthHandler

	// TracingEnabled attaches the otelgin middleware; leave false when no
	// exporter is configured.
	TracingEnabled bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		r.Use(otelgin.Middleware("chatwithpdf-backend"))
	}
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Live)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	api := r.Group("/api")
	api.Use(httpMW.AttachRequestContext())
	{
		if cfg.DocumentHandler != nil {
			api.POST("/documents", cfg.DocumentHandler.Ingest)
			api.POST("/documents/upload", cfg.DocumentHandler.Upload)
			api.GET("/documents", cfg.DocumentHandler.List)
			api.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
			api.POST("/documents/:id/summary", cfg.DocumentHandler.Summarize)
		}
		if cfg.ChatHandler != nil {
			api.POST("/chat", cfg.ChatHandler.Chat)
			api.GET("/chats", cfg.ChatHandler.ListChats)
		}
	}

	return r
}
