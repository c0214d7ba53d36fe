package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/db"
	httpapi "github.com/chatwithpdf/chatwithpdf-backend/internal/http"
	httpH "github.com/chatwithpdf/chatwithpdf-backend/internal/http/handlers"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/ingestion/extractor"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/observability"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/services"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Server *httpapi.Server
	Router *gin.Engine
	Cfg    Config
	Repos  Repos
	RAG    services.RAGService
	Cache  *services.ServiceCache

	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "chatwithpdf-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)
	if err := reposet.Plan.Seed(context.Background(), nil); err != nil {
		log.Warn("plan seeding failed", "error", err)
	}

	cache := services.NewServiceCache(log, cfg.ServiceCacheMaxAge, wireClientConstructors(log))
	cache.Warmup()

	history := services.NewHistoryCache(log, services.NewRedisClientFromEnv())

	rag := services.NewRAGService(
		log,
		cfg.RAG.toServiceConfig(),
		cache,
		reposet.Profile,
		reposet.Document,
		reposet.Chat,
		history,
	)

	server := httpapi.NewServer(httpapi.RouterConfig{
		Log:             log,
		DocumentHandler: httpH.NewDocumentHandler(rag, extractor.NewPlaintext(log)),
		ChatHandler:     httpH.NewChatHandler(rag),
		HealthHandler:   httpH.NewHealthHandler(theDB, cache),
		TracingEnabled:  observability.Enabled(),
	}, cfg.Address())

	return &App{
		Log:          log,
		DB:           theDB,
		Server:       server,
		Router:       server.Engine,
		Cfg:          cfg,
		Repos:        reposet,
		RAG:          rag,
		Cache:        cache,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "address", a.Cfg.Address())
	return a.Server.Run(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
