package store

import (
	"context"

	"github.com/madcadaver/dbot/internal/models"
)

// GraphStore defines the recency-ordered half of the memory system: users,
// threads, messages and the graph side of facts.
type GraphStore interface {
	// EnsureUser upserts a user node, refreshing username and last-seen.
	EnsureUser(ctx context.Context, user *models.User) error
	// GetUser returns the user node, or nil when unknown.
	GetUser(ctx context.Context, userID string) (*models.User, error)
	// SetAlias records a new preferred name, keeping the old one in
	// other_names for mention rewriting.
	SetAlias(ctx context.Context, userID, alias string) error

	// EnsureThread upserts a thread node.
	EnsureThread(ctx context.Context, thread *models.Thread) error
	// RecentMessages returns up to limit messages of a thread in
	// chronological order (oldest first).
	RecentMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error)
	// AppendTurn writes the whole turn in one transaction, assigning
	// consecutive ordinals. Partial turns are never visible.
	AppendTurn(ctx context.Context, turn *models.Turn) error

	// CreatePendingFact writes the graph half of a fact with pending status.
	CreatePendingFact(ctx context.Context, fact *models.Fact) error
	// MarkFactCommitted flips the fact to committed once its embedding is
	// durable.
	MarkFactCommitted(ctx context.Context, factID string) error
	// DeleteFact removes the graph half of a fact.
	DeleteFact(ctx context.Context, factID string) error
	// UserFacts returns committed facts about a user, newest first.
	UserFacts(ctx context.Context, userID string, limit int) ([]*models.Fact, error)
}

// VectorStore defines the similarity-ordered half of the memory system.
// Entries are keyed by the fact's graph ID, which is what keeps the two
// stores pairable.
type VectorStore interface {
	// AddEmbedding embeds the fact content and stores it under the fact ID.
	AddEmbedding(ctx context.Context, fact *models.Fact) error
	// DeleteEmbedding removes the vector half of a fact.
	DeleteEmbedding(ctx context.Context, factID string) error
	// SearchFacts embeds the query and returns facts scoring at or above
	// the threshold, best first, at most topK.
	SearchFacts(ctx context.Context, query string, topK int, threshold float32) ([]*models.Fact, error)
}
