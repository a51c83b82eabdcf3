package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/madcadaver/dbot/internal/memory/store"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/pkg/util"
)

const profileFactLimit = 20

// Profiles serves user profiles (identity plus committed facts) with an LRU
// cache in front of the graph store. Writes that change a profile must call
// Invalidate so the next read is fresh.
type Profiles struct {
	graph store.GraphStore
	cache *util.LRUCache[string, *models.UserProfile]
}

// NewProfiles creates a profile reader with the given cache capacity and TTL.
func NewProfiles(graph store.GraphStore, cacheSize int, ttl time.Duration) (*Profiles, error) {
	cache, err := util.NewWithConfig(util.CacheConfig[string, *models.UserProfile]{
		Capacity: cacheSize,
		TTL:      ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}
	return &Profiles{graph: graph, cache: cache}, nil
}

// Get returns the profile for a user, from cache when possible. An unknown
// user yields a profile with only the user ID filled in.
func (p *Profiles) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	if profile, ok := p.cache.Get(userID); ok {
		return profile, nil
	}

	user, err := p.graph.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user profile: %w", err)
	}
	if user == nil {
		user = &models.User{UserID: userID}
	}

	facts, err := p.graph.UserFacts(ctx, userID, profileFactLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load user facts: %w", err)
	}

	profile := &models.UserProfile{User: *user, Facts: facts}
	p.cache.Put(userID, profile, 1)
	return profile, nil
}

// Invalidate drops a user's cached profile. Called after alias changes and
// fact writes about the user.
func (p *Profiles) Invalidate(userID string) {
	p.cache.Remove(userID)
}
