package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/memory"
	"github.com/madcadaver/dbot/internal/memory/store"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/pkg/logger"
)

const (
	storeAttempts    = 2
	storeCallTimeout = 5 * time.Second
)

// fetchWithRetry gives each store read storeAttempts tries under a per-call
// timeout. Exhaustion wraps ErrStoreUnavailable so the caller can degrade
// the tier.
func fetchWithRetry[T any](ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, storeCallTimeout)
		var got T
		got, err = fetch(callCtx)
		cancel()
		if err == nil {
			return got, nil
		}
	}
	return zero, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

// Assembler builds the bounded context package for a turn: recent history
// from the graph store, similar facts from the vector store and the
// speaker's profile. A store that stays down after retries degrades its tier
// instead of failing the turn.
type Assembler struct {
	graph    store.GraphStore
	facts    *memory.FactStore
	profiles *memory.Profiles
	cfg      config.MemoryConfig
	log      *logger.Logger
}

// NewAssembler creates a new Assembler.
func NewAssembler(graph store.GraphStore, facts *memory.FactStore, profiles *memory.Profiles, cfg config.MemoryConfig) *Assembler {
	return &Assembler{
		graph:    graph,
		facts:    facts,
		profiles: profiles,
		cfg:      cfg,
		log:      logger.New("assembler", "", ""),
	}
}

// Assemble produces the context package for one user message, trimmed to the
// token budget. History gives way first, oldest messages first; recalled
// facts are dropped lowest-scoring first only after history is exhausted.
func (a *Assembler) Assemble(ctx context.Context, threadID, userID, query string) (*models.ContextPackage, error) {
	pkg := &models.ContextPackage{}

	history, err := fetchWithRetry(ctx, func(callCtx context.Context) ([]*models.Message, error) {
		return a.graph.RecentMessages(callCtx, threadID, a.cfg.HistoryWindow)
	})
	if err != nil {
		a.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "store_degraded"}).
			Error(fmt.Sprintf("history unavailable for thread %s", threadID))
		pkg.Degraded.History = true
	} else {
		pkg.History = history
	}

	if a.cfg.Enabled {
		facts, err := fetchWithRetry(ctx, func(callCtx context.Context) ([]*models.Fact, error) {
			return a.facts.Search(callCtx, query, a.cfg.RecallTopK, a.cfg.SimilarityThreshold)
		})
		if err != nil {
			a.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "store_degraded"}).
				Error("fact recall unavailable")
			pkg.Degraded.Recall = true
		} else {
			pkg.Facts = facts
		}
	}

	profile, err := fetchWithRetry(ctx, func(callCtx context.Context) (*models.UserProfile, error) {
		return a.profiles.Get(callCtx, userID)
	})
	if err != nil {
		a.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "store_degraded"}).
			Error(fmt.Sprintf("profile unavailable for user %s", userID))
		pkg.Degraded.Profile = true
	} else {
		pkg.Profile = *profile
	}

	a.trimToBudget(pkg, query)
	return pkg, nil
}

// trimToBudget drops content until the estimated size fits the budget minus
// the fixed prompt overhead and the query itself.
func (a *Assembler) trimToBudget(pkg *models.ContextPackage, query string) {
	budget := a.cfg.TokenBudget - a.cfg.PromptOverhead - EstimateTokens(query)
	for _, fact := range pkg.Profile.Facts {
		budget -= EstimateTokens(fact.Content)
	}

	used := 0
	for _, msg := range pkg.History {
		if msg.TokenCount > 0 {
			used += msg.TokenCount
		} else {
			used += EstimateTokens(msg.Content)
		}
	}
	for _, fact := range pkg.Facts {
		used += EstimateTokens(fact.Content)
	}

	// Oldest history goes first.
	for used > budget && len(pkg.History) > 0 {
		dropped := pkg.History[0]
		pkg.History = pkg.History[1:]
		if dropped.TokenCount > 0 {
			used -= dropped.TokenCount
		} else {
			used -= EstimateTokens(dropped.Content)
		}
	}

	// Then the weakest recalled facts, from the tail: SearchFacts returns
	// best first.
	for used > budget && len(pkg.Facts) > 0 {
		dropped := pkg.Facts[len(pkg.Facts)-1]
		pkg.Facts = pkg.Facts[:len(pkg.Facts)-1]
		used -= EstimateTokens(dropped.Content)
	}
}
