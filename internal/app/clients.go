package app

import (
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/embeddings"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/llm"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/qdrant"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/services"
)

// wireClientConstructors binds the environment-resolved client factories the
// ServiceCache rebuilds from. Config is re-read on every construction so a
// rotated key takes effect after Invalidate or expiry.
func wireClientConstructors(log *logger.Logger) services.ServiceCacheConstructors {
	return services.ServiceCacheConstructors{
		NewEmbeddingClient: func() (embeddings.Client, error) {
			cfg, err := embeddings.ResolveConfigFromEnv()
			if err != nil {
				return nil, err
			}
			return embeddings.NewClient(log, cfg)
		},
		NewVectorStore: func() (qdrant.Store, error) {
			cfg, err := qdrant.ResolveConfigFromEnv()
			if err != nil {
				return nil, err
			}
			return qdrant.NewStore(log, cfg)
		},
		NewGenerationClient: func() (llm.Client, error) {
			cfg, err := llm.ResolveConfigFromEnv()
			if err != nil {
				return nil, err
			}
			return llm.NewClient(log, cfg)
		},
	}
}
