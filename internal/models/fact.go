package models

import "time"

// FactStatus tracks the two-phase commit of a fact across the graph and
// vector stores.
type FactStatus string

const (
	FactPending   FactStatus = "pending"   // graph node written, embedding not yet stored
	FactCommitted FactStatus = "committed" // both halves durable, visible to recall
)

// Fact represents a piece of long-term knowledge. The graph store holds the
// node (content, provenance, status); the vector store holds the embedding
// under the same ID. A fact is only readable once Status is FactCommitted.
type Fact struct {
	ID              string     `json:"id"`
	Content         string     `json:"content"`
	Vector          []float32  `json:"vector,omitempty"`
	Status          FactStatus `json:"status"`
	SubjectUserID   string     `json:"subject_user_id,omitempty"`
	SourceMessageID string     `json:"source_message_id,omitempty"`
	Source          string     `json:"source,omitempty"` // e.g. "conversation", "web_search", "store_knowledge"
	Score           float32    `json:"score,omitempty"`  // similarity score, populated on recall only
	CreatedAt       time.Time  `json:"created_at"`
}
