// Package knowledge embeds and retrieves prior-knowledge artifacts.
//
// Retrieval backs layer 5 of the prompt composer: top-k cosine neighbors of
// the task text, thresholded so weak matches never pad the prompt.
package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"

	"github.com/pbc1017/hollon-ai-sub009/pkg/brain"
	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderEmbedder embeds through a brain provider's embed endpoint.
type ProviderEmbedder struct {
	gateway  *brain.Gateway
	provider string
}

// NewProviderEmbedder creates an Embedder bound to one provider.
func NewProviderEmbedder(gateway *brain.Gateway, provider string) *ProviderEmbedder {
	return &ProviderEmbedder{gateway: gateway, provider: provider}
}

// Embed implements Embedder.
func (e *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.gateway.Embed(ctx, e.provider, text)
	if err != nil {
		return nil, err
	}
	if len(v) != store.EmbeddingDim {
		return nil, fmt.Errorf("provider %s returned %d dims, want %d",
			e.provider, len(v), store.EmbeddingDim)
	}
	return v, nil
}

// HashEmbedder is a deterministic, offline Embedder: token hashes bucketed
// into the vector, L2-normalized. Similar texts get similar vectors, which is
// enough for tests and for running without an embedding provider.
type HashEmbedder struct{}

// Embed implements Embedder.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, store.EmbeddingDim)
	start := -1
	for i := 0; i <= len(text); i++ {
		boundary := i == len(text) || text[i] == ' ' || text[i] == '\n' || text[i] == '\t'
		if !boundary {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			h := fnv.New32a()
			_, _ = h.Write([]byte(text[start:i]))
			v[h.Sum32()%store.EmbeddingDim]++
			start = -1
		}
	}
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v, nil
}

// Service ties the embedder to artifact storage and search.
type Service struct {
	store    *store.Store
	embedder Embedder
	cfg      *config.KnowledgeConfig
	logger   *slog.Logger
}

// NewService creates a knowledge Service.
func NewService(st *store.Store, embedder Embedder, cfg *config.KnowledgeConfig, logger *slog.Logger) *Service {
	return &Service{store: st, embedder: embedder, cfg: cfg, logger: logger.With("component", "knowledge")}
}

// Ingest embeds and stores one artifact.
func (s *Service) Ingest(ctx context.Context, a *models.KnowledgeArtifact) error {
	v, err := s.embedder.Embed(ctx, a.Title+"\n"+a.Content)
	if err != nil {
		return fmt.Errorf("embed artifact: %w", err)
	}
	a.Embedding = v
	return s.store.CreateKnowledgeArtifact(ctx, a)
}

// Retrieve returns the organization's top matches for the text, filtered by
// the configured score floor.
func (s *Service) Retrieve(ctx context.Context, orgID, text string) ([]*models.KnowledgeMatch, error) {
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.store.SearchKnowledge(ctx, orgID, v, s.cfg.TopK, s.cfg.MinScore)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("knowledge retrieved", "org_id", orgID, "matches", len(matches))
	return matches, nil
}
