package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// EmbeddingDim is the fixed dimensionality of knowledge embeddings; the
// column type is vector(256).
const EmbeddingDim = 256

// vectorLiteral renders a pgvector input literal: [0.1,0.2,...].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// CreateKnowledgeArtifact stores an artifact with its embedding.
func (s *Store) CreateKnowledgeArtifact(ctx context.Context, a *models.KnowledgeArtifact) error {
	if len(a.Embedding) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dims, want %d: %w", len(a.Embedding), EmbeddingDim, ErrInvariantViolation)
	}
	if a.ID == "" {
		a.ID = ident.New()
	}
	a.CreatedAt = s.clock.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_artifacts (id, organization_id, task_id, title, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7)`,
		a.ID, a.OrganizationID, a.TaskID, a.Title, a.Content, vectorLiteral(a.Embedding), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create knowledge artifact: %w", err)
	}
	return nil
}

// GetKnowledgeArtifact fetches one artifact by id.
func (s *Store) GetKnowledgeArtifact(ctx context.Context, id string) (*models.KnowledgeArtifact, error) {
	var a models.KnowledgeArtifact
	var emb string
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, task_id, title, content, embedding::text, created_at
		FROM knowledge_artifacts WHERE id = $1`, id).
		Scan(&a.ID, &a.OrganizationID, &a.TaskID, &a.Title, &a.Content, &emb, &a.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "knowledge artifact "+id)
	}
	if a.Embedding, err = parseVectorLiteral(emb); err != nil {
		return nil, err
	}
	return &a, nil
}

// SearchKnowledge returns the organization's top-k artifacts by cosine
// similarity to query, keeping only matches at or above minScore. Cosine
// distance d maps to similarity 1-d.
func (s *Store) SearchKnowledge(ctx context.Context, orgID string, query []float32, k int, minScore float64) ([]*models.KnowledgeMatch, error) {
	if len(query) != EmbeddingDim {
		return nil, fmt.Errorf("query has %d dims, want %d: %w", len(query), EmbeddingDim, ErrInvariantViolation)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, task_id, title, content,
			1 - (embedding <=> $2::vector) AS score
		FROM knowledge_artifacts
		WHERE organization_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2::vector
		LIMIT $3`, orgID, vectorLiteral(query), k)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var matches []*models.KnowledgeMatch
	for rows.Next() {
		var a models.KnowledgeArtifact
		var score float64
		err := rows.Scan(&a.ID, &a.OrganizationID, &a.TaskID, &a.Title, &a.Content, &score)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge match: %w", err)
		}
		if score < minScore {
			continue
		}
		matches = append(matches, &models.KnowledgeMatch{Artifact: &a, Score: score})
	}
	return matches, rows.Err()
}
