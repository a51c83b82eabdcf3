package store

import (
	"context"
	"fmt"
	"time"

	"github.com/madcadaver/dbot/internal/database/milvus"
	"github.com/madcadaver/dbot/internal/embedding"
	"github.com/madcadaver/dbot/internal/models"
)

var factOutputFields = []string{"fact_id", "content", "subject_user_id", "created_at"}

// MilvusStore is the VectorStore implementation backed by Milvus. It owns the
// embedder, so callers hand it plain text and it keeps content and vector
// together.
type MilvusStore struct {
	client   *milvus.MilvusClient
	embedder embedding.Embedding
}

// NewMilvusStore creates a new MilvusStore.
func NewMilvusStore(client *milvus.MilvusClient, embedder embedding.Embedding) *MilvusStore {
	return &MilvusStore{
		client:   client,
		embedder: embedder,
	}
}

// AddEmbedding embeds the fact content and upserts it under the fact's graph
// ID. Re-running for the same ID overwrites rather than duplicates, which is
// what makes commit retries safe.
func (s *MilvusStore) AddEmbedding(ctx context.Context, fact *models.Fact) error {
	vector, err := s.embedder.Embed(ctx, fact.Content)
	if err != nil {
		return fmt.Errorf("failed to embed fact content: %w", err)
	}
	fact.Vector = vector

	return s.client.Upsert(ctx, fact.ID, fact.Content, fact.SubjectUserID, fact.CreatedAt.Unix(), vector)
}

// DeleteEmbedding removes the vector half of a fact.
func (s *MilvusStore) DeleteEmbedding(ctx context.Context, factID string) error {
	return s.client.DeleteByID(ctx, factID)
}

// SearchFacts embeds the query and returns facts scoring at or above the
// threshold, best first. Scores are cosine similarities, so higher is closer.
func (s *MilvusStore) SearchFacts(ctx context.Context, query string, topK int, threshold float32) ([]*models.Fact, error) {
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	searchResults, err := s.client.Search(ctx, topK, queryVector, factOutputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search in Milvus: %w", err)
	}

	var facts []*models.Fact
	for _, result := range searchResults {
		for i := 0; i < result.ResultCount; i++ {
			if result.Scores[i] < threshold {
				continue
			}
			fact := &models.Fact{
				Status: models.FactCommitted,
				Score:  result.Scores[i],
			}
			for _, field := range result.Fields {
				switch field.Name() {
				case "fact_id":
					fact.ID, _ = field.GetAsString(i)
				case "content":
					fact.Content, _ = field.GetAsString(i)
				case "subject_user_id":
					fact.SubjectUserID, _ = field.GetAsString(i)
				case "created_at":
					createdAt, _ := field.GetAsInt64(i)
					fact.CreatedAt = time.Unix(createdAt, 0)
				}
			}
			facts = append(facts, fact)
		}
	}
	return facts, nil
}
