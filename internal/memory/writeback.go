package memory

import (
	"context"
	"fmt"

	"github.com/madcadaver/dbot/internal/memory/store"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/pkg/logger"

	"github.com/google/uuid"
)

// TurnWriter commits finished turns to the graph store and routes any facts
// derived during the turn through the paired fact commit.
type TurnWriter struct {
	graph store.GraphStore
	facts *FactStore
	log   *logger.Logger
}

// NewTurnWriter creates a new TurnWriter.
func NewTurnWriter(graph store.GraphStore, facts *FactStore) *TurnWriter {
	return &TurnWriter{
		graph: graph,
		facts: facts,
		log:   logger.New("turn_writer", "", ""),
	}
}

// CommitTurn writes the turn as one transaction, then commits derived facts.
// The turn is all-or-nothing: a failure here means nothing of the exchange is
// visible. Fact failures after a committed turn are logged and swallowed,
// since the reply has already been delivered.
func (w *TurnWriter) CommitTurn(ctx context.Context, turn *models.Turn, derived []*models.Fact) error {
	if turn.UserMessage != nil && turn.UserMessage.MessageID == "" {
		turn.UserMessage.MessageID = uuid.New().String()
	}
	if turn.Reply != nil && turn.Reply.MessageID == "" {
		turn.Reply.MessageID = uuid.New().String()
	}

	if err := w.graph.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	for _, fact := range derived {
		if fact.SourceMessageID == "" && turn.UserMessage != nil {
			fact.SourceMessageID = turn.UserMessage.MessageID
		}
		if err := w.facts.Commit(ctx, fact); err != nil {
			w.log.WithError(models.ErrorInfo{
				Message: err.Error(),
				Type:    "fact_commit",
			}).Error(fmt.Sprintf("failed to commit derived fact for thread %s", turn.ThreadID))
		}
	}
	return nil
}
