package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/madcadaver/dbot/internal/memory/store"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/pkg/logger"

	"github.com/google/uuid"
)

const commitAttempts = 3

// FactStore coordinates the two halves of a fact: the graph node in Neo4j and
// the embedding in Milvus. Every committed fact has both halves or neither;
// a half-written pair is rolled back rather than left behind.
type FactStore struct {
	graph  store.GraphStore
	vector store.VectorStore
	log    *logger.Logger
}

// NewFactStore creates a new FactStore.
func NewFactStore(graph store.GraphStore, vector store.VectorStore) *FactStore {
	return &FactStore{
		graph:  graph,
		vector: vector,
		log:    logger.New("fact_store", "", ""),
	}
}

// Commit writes a fact to both stores. The graph node goes in first with
// pending status, then the embedding, then the status flip. A committed fact
// is recallable by similarity as soon as Commit returns.
func (f *FactStore) Commit(ctx context.Context, fact *models.Fact) error {
	if fact.ID == "" {
		fact.ID = uuid.New().String()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}
	fact.Status = models.FactPending

	if err := f.graph.CreatePendingFact(ctx, fact); err != nil {
		return fmt.Errorf("failed to create pending fact: %w", err)
	}

	if err := f.withRetry(ctx, func() error { return f.vector.AddEmbedding(ctx, fact) }); err != nil {
		f.rollback(ctx, fact.ID, false)
		return fmt.Errorf("failed to store fact embedding: %w", err)
	}

	if err := f.withRetry(ctx, func() error { return f.graph.MarkFactCommitted(ctx, fact.ID) }); err != nil {
		f.rollback(ctx, fact.ID, true)
		return fmt.Errorf("failed to mark fact committed: %w", err)
	}

	fact.Status = models.FactCommitted
	return nil
}

// Delete removes both halves of a fact. The vector half goes first so a fact
// never becomes recallable-but-gone from the graph.
func (f *FactStore) Delete(ctx context.Context, factID string) error {
	if err := f.vector.DeleteEmbedding(ctx, factID); err != nil {
		return fmt.Errorf("failed to delete fact embedding: %w", err)
	}
	if err := f.graph.DeleteFact(ctx, factID); err != nil {
		return fmt.Errorf("failed to delete fact node: %w", err)
	}
	return nil
}

// Search returns committed facts similar to the query, best first. Equal
// scores are ordered by provenance recency, newest first.
func (f *FactStore) Search(ctx context.Context, query string, topK int, threshold float32) ([]*models.Fact, error) {
	facts, err := f.vector.SearchFacts(ctx, query, topK, threshold)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Score != facts[j].Score {
			return facts[i].Score > facts[j].Score
		}
		return facts[i].CreatedAt.After(facts[j].CreatedAt)
	})
	return facts, nil
}

// withRetry runs op a few times with a short pause. Store hiccups during a
// commit are common enough that giving up on the first error would leak
// pending facts for no reason.
func (f *FactStore) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		}
	}
	return err
}

// rollback undoes a half-written pair. Errors here are logged rather than
// returned: the caller already has the commit failure, and a leftover pending
// node is invisible to recall and profile reads.
func (f *FactStore) rollback(ctx context.Context, factID string, vectorWritten bool) {
	if vectorWritten {
		if err := f.vector.DeleteEmbedding(ctx, factID); err != nil {
			f.log.WithError(models.ErrorInfo{
				Message: fmt.Sprintf("%v: %v", models.ErrPairingViolation, err),
				Type:    "pairing_violation",
			}).Error(fmt.Sprintf("failed to roll back embedding for fact %s", factID))
		}
	}
	if err := f.graph.DeleteFact(ctx, factID); err != nil {
		f.log.WithError(models.ErrorInfo{
			Message: fmt.Sprintf("%v: %v", models.ErrPairingViolation, err),
			Type:    "pairing_violation",
		}).Error(fmt.Sprintf("failed to roll back graph node for fact %s", factID))
	}
}
