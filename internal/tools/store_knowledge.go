package tools

import (
	"context"
	"fmt"

	"github.com/madcadaver/dbot/internal/memory"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/pkg/util"

	"github.com/mark3labs/mcp-go/mcp"
)

// StoreKnowledge commits a fact to both memory stores immediately, so it is
// recallable within the same turn. A bloom filter guards against the model
// re-storing the same text over and over within a process lifetime.
type StoreKnowledge struct {
	facts    *memory.FactStore
	profiles *memory.Profiles
	seen     *util.ScalableBloomFilter
}

// NewStoreKnowledge creates the store_knowledge tool.
func NewStoreKnowledge(facts *memory.FactStore, profiles *memory.Profiles) (*StoreKnowledge, error) {
	seen, err := util.NewScalableBloomFilter(util.SBFConfig{
		InitialCapacity:      4096,
		ErrorRate:            0.01,
		GrowthFactor:         2,
		ErrorTighteningRatio: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup filter: %w", err)
	}
	return &StoreKnowledge{facts: facts, profiles: profiles, seen: seen}, nil
}

func (t *StoreKnowledge) Manifest() mcp.Tool {
	return mcp.NewTool(
		"store_knowledge",
		mcp.WithDescription("Save a single piece of knowledge about a user or the world to long-term memory. Use one call per fact."),
		mcp.WithString("text",
			mcp.Description("The fact to remember, phrased as one standalone sentence"),
			mcp.Required(),
		),
		mcp.WithString("subject",
			mcp.Description("User ID the fact is about, empty for general knowledge"),
		),
	)
}

func (t *StoreKnowledge) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	text, _ := args["text"].(string)
	subject, _ := args["subject"].(string)

	key := []byte(subject + "\x00" + text)
	if t.seen.Test(key) {
		return &Result{Content: "Already known, nothing stored."}, nil
	}

	fact := &models.Fact{
		Content:       text,
		SubjectUserID: subject,
		Source:        "store_knowledge",
	}
	if err := t.facts.Commit(ctx, fact); err != nil {
		return nil, err
	}
	t.seen.Add(key)
	if subject != "" && t.profiles != nil {
		t.profiles.Invalidate(subject)
	}

	return &Result{Content: fmt.Sprintf("Stored: %s", text)}, nil
}
