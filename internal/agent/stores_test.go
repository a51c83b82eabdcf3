package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/madcadaver/dbot/internal/models"
)

// fakeGraphStore is an in-memory GraphStore for loop and assembler tests.
type fakeGraphStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	threads  map[string]*models.Thread
	messages map[string][]*models.Message
	facts    map[string]*models.Fact

	failRecent int // remaining RecentMessages calls to fail
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{
		users:    make(map[string]*models.User),
		threads:  make(map[string]*models.Thread),
		messages: make(map[string][]*models.Message),
		facts:    make(map[string]*models.Fact),
	}
}

func (f *fakeGraphStore) EnsureUser(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[user.UserID]; ok {
		existing.Username = user.Username
		return nil
	}
	copied := *user
	f.users[user.UserID] = &copied
	return nil
}

func (f *fakeGraphStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeGraphStore) SetAlias(ctx context.Context, userID, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	if user.Alias != "" && user.Alias != alias {
		user.OtherNames = append(user.OtherNames, user.Alias)
	}
	user.Alias = alias
	return nil
}

func (f *fakeGraphStore) EnsureThread(ctx context.Context, thread *models.Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[thread.ThreadID]; !ok {
		copied := *thread
		f.threads[thread.ThreadID] = &copied
	}
	return nil
}

func (f *fakeGraphStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRecent > 0 {
		f.failRecent--
		return nil, errors.New("graph read failed")
	}
	msgs := f.messages[threadID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeGraphStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ordinal int64
	if msgs := f.messages[turn.ThreadID]; len(msgs) > 0 {
		ordinal = msgs[len(msgs)-1].Ordinal
	}
	for _, msg := range []*models.Message{turn.UserMessage, turn.Reply} {
		if msg == nil {
			continue
		}
		ordinal++
		msg.Ordinal = ordinal
		f.messages[turn.ThreadID] = append(f.messages[turn.ThreadID], msg)
	}
	return nil
}

func (f *fakeGraphStore) CreatePendingFact(ctx context.Context, fact *models.Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *fact
	copied.Status = models.FactPending
	f.facts[fact.ID] = &copied
	return nil
}

func (f *fakeGraphStore) MarkFactCommitted(ctx context.Context, factID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[factID]
	if !ok {
		return errors.New("no such fact")
	}
	fact.Status = models.FactCommitted
	return nil
}

func (f *fakeGraphStore) DeleteFact(ctx context.Context, factID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.facts, factID)
	return nil
}

func (f *fakeGraphStore) UserFacts(ctx context.Context, userID string, limit int) ([]*models.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Fact
	for _, fact := range f.facts {
		if fact.SubjectUserID == userID && fact.Status == models.FactCommitted {
			out = append(out, fact)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fakeVectorStore matches facts by substring in place of similarity.
type fakeVectorStore struct {
	mu      sync.Mutex
	entries map[string]*models.Fact

	failSearch int // remaining SearchFacts calls to fail
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{entries: make(map[string]*models.Fact)}
}

func (f *fakeVectorStore) AddEmbedding(ctx context.Context, fact *models.Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *fact
	f.entries[fact.ID] = &copied
	return nil
}

func (f *fakeVectorStore) DeleteEmbedding(ctx context.Context, factID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, factID)
	return nil
}

func (f *fakeVectorStore) SearchFacts(ctx context.Context, query string, topK int, threshold float32) ([]*models.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSearch > 0 {
		f.failSearch--
		return nil, errors.New("milvus search failed")
	}
	var out []*models.Fact
	for _, fact := range f.entries {
		if strings.Contains(fact.Content, query) {
			found := *fact
			found.Score = 0.9
			out = append(out, &found)
		}
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
