package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/madcadaver/dbot/internal/models"
)

// fakeGraphStore is an in-memory GraphStore for tests, with injectable
// failures per operation.
type fakeGraphStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	threads  map[string]*models.Thread
	messages map[string][]*models.Message
	facts    map[string]*models.Fact

	failCreateFact bool
	failMarkFact   bool
	failDeleteFact bool
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
	if f.failCreateFact {
		return errors.New("graph write failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *fact
	copied.Status = models.FactPending
	f.facts[fact.ID] = &copied
	return nil
}

func (f *fakeGraphStore) MarkFactCommitted(ctx context.Context, factID string) error {
	if f.failMarkFact {
		return errors.New("graph write failed")
	}
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
	if f.failDeleteFact {
		return errors.New("graph delete failed")
	}
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

// fakeVectorStore is an in-memory VectorStore keyed by fact ID, with a
// substring-match stand-in for similarity search.
type fakeVectorStore struct {
	mu      sync.Mutex
	entries map[string]*models.Fact

	failAdd    bool
	failDelete bool
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{entries: make(map[string]*models.Fact)}
}

func (f *fakeVectorStore) AddEmbedding(ctx context.Context, fact *models.Fact) error {
	if f.failAdd {
		return errors.New("milvus write failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *fact
	f.entries[fact.ID] = &copied
	return nil
}

func (f *fakeVectorStore) DeleteEmbedding(ctx context.Context, factID string) error {
	if f.failDelete {
		return errors.New("milvus delete failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, factID)
	return nil
}

func (f *fakeVectorStore) SearchFacts(ctx context.Context, query string, topK int, threshold float32) ([]*models.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func TestFactStoreCommitPairsBothHalves(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	facts := NewFactStore(graph, vector)

	fact := &models.Fact{Content: "likes matcha tea", SubjectUserID: "u1"}
	if err := facts.Commit(context.Background(), fact); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if fact.ID == "" {
		t.Fatal("expected Commit to assign a fact ID")
	}
	if fact.Status != models.FactCommitted {
		t.Errorf("expected committed status, got %q", fact.Status)
	}
	stored, ok := graph.facts[fact.ID]
	if !ok {
		t.Fatal("graph half missing after commit")
	}
	if stored.Status != models.FactCommitted {
		t.Errorf("graph node still %q after commit", stored.Status)
	}
	if _, ok := vector.entries[fact.ID]; !ok {
		t.Error("vector half missing after commit")
	}
}

func TestFactStoreCommitVisibleImmediately(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	facts := NewFactStore(graph, vector)

	fact := &models.Fact{Content: "allergic to peanuts", SubjectUserID: "u1"}
	if err := facts.Commit(context.Background(), fact); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	found, err := facts.Search(context.Background(), "peanuts", 5, 0.5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != fact.ID {
		t.Fatalf("expected the committed fact to be recallable, got %d results", len(found))
	}
}

func TestFactStoreSearchBreaksScoreTiesByRecency(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	facts := NewFactStore(graph, vector)

	// The fake scores every match identically, so ordering must come from
	// the provenance timestamps alone.
	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"cat fact old", "cat fact middle", "cat fact new"} {
		fact := &models.Fact{
			Content:       content,
			SubjectUserID: "u1",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := facts.Commit(context.Background(), fact); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	found, err := facts.Search(context.Background(), "cat", 10, 0.5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 results, got %d", len(found))
	}
	if found[0].Content != "cat fact new" {
		t.Errorf("first result = %q, want the newest fact", found[0].Content)
	}
	for i := 1; i < len(found); i++ {
		if found[i].CreatedAt.After(found[i-1].CreatedAt) {
			t.Fatal("equal scores must be ordered newest first")
		}
	}
}

func TestFactStoreEmbeddingFailureRollsBackGraph(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	vector.failAdd = true
	facts := NewFactStore(graph, vector)

	fact := &models.Fact{Content: "lives in Rotterdam", SubjectUserID: "u1"}
	if err := facts.Commit(context.Background(), fact); err == nil {
		t.Fatal("expected Commit to fail when the vector store is down")
	}

	if len(graph.facts) != 0 {
		t.Errorf("expected graph rollback, %d nodes left", len(graph.facts))
	}
	if len(vector.entries) != 0 {
		t.Errorf("expected no vector entries, got %d", len(vector.entries))
	}
}

func TestFactStoreMarkFailureRollsBackBothHalves(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	graph.failMarkFact = true
	facts := NewFactStore(graph, vector)

	fact := &models.Fact{Content: "plays the cello", SubjectUserID: "u1"}
	if err := facts.Commit(context.Background(), fact); err == nil {
		t.Fatal("expected Commit to fail when the status flip fails")
	}

	if len(vector.entries) != 0 {
		t.Errorf("expected vector rollback, %d entries left", len(vector.entries))
	}
	if len(graph.facts) != 0 {
		t.Errorf("expected graph rollback, %d nodes left", len(graph.facts))
	}
}

func TestFactStoreDeleteRemovesBothHalves(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	facts := NewFactStore(graph, vector)

	fact := &models.Fact{Content: "afraid of spiders", SubjectUserID: "u1"}
	if err := facts.Commit(context.Background(), fact); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := facts.Delete(context.Background(), fact.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(graph.facts) != 0 || len(vector.entries) != 0 {
		t.Error("expected both halves gone after Delete")
	}
}

func TestTurnWriterAssignsConsecutiveOrdinals(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	writer := NewTurnWriter(graph, NewFactStore(graph, vector))

	now := time.Now()
	for i := 0; i < 3; i++ {
		turn := &models.Turn{
			ThreadID:    "t1",
			UserMessage: &models.Message{ThreadID: "t1", Role: models.SpeakerUser, Content: "hi", Timestamp: now},
			Reply:       &models.Message{ThreadID: "t1", Role: models.SpeakerAssistant, Content: "hello", Timestamp: now},
		}
		if err := writer.CommitTurn(context.Background(), turn, nil); err != nil {
			t.Fatalf("CommitTurn failed: %v", err)
		}
	}

	msgs, err := graph.RecentMessages(context.Background(), "t1", 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		if msg.Ordinal != int64(i+1) {
			t.Errorf("message %d has ordinal %d, want %d", i, msg.Ordinal, i+1)
		}
	}
}

func TestTurnWriterSwallowsFactFailures(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	vector.failAdd = true
	writer := NewTurnWriter(graph, NewFactStore(graph, vector))

	turn := &models.Turn{
		ThreadID:    "t1",
		UserMessage: &models.Message{ThreadID: "t1", Role: models.SpeakerUser, Content: "I moved to Oslo"},
		Reply:       &models.Message{ThreadID: "t1", Role: models.SpeakerAssistant, Content: "noted"},
	}
	derived := []*models.Fact{{Content: "moved to Oslo", SubjectUserID: "u1"}}
	if err := writer.CommitTurn(context.Background(), turn, derived); err != nil {
		t.Fatalf("CommitTurn should not fail on fact errors after the turn landed: %v", err)
	}
	if len(graph.messages["t1"]) != 2 {
		t.Errorf("expected the turn itself to be committed, got %d messages", len(graph.messages["t1"]))
	}
}
