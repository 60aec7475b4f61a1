package retrieval

import (
	"github.com/rs/zerolog"

	"sharktank-agent/internal/config"
	"sharktank-agent/internal/domain/ports/adapter"
)

// New picks the retrieval backend from config.
func New(cfg config.RetrievalConfig, logger *zerolog.Logger) adapter.Retriever {
	if cfg.Mode == "qdrant" {
		return NewQdrantRetriever(QdrantOptions{
			QdrantURL:      cfg.QdrantURL,
			APIKey:         cfg.QdrantAPIKey,
			Collection:     cfg.Collection,
			OllamaURL:      cfg.OllamaURL,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
		}, logger)
	}
	return NewServiceRetriever(cfg.URL, cfg.Timeout)
}
