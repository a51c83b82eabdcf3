package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/memory"
	"github.com/madcadaver/dbot/internal/models"
)

func testAssembler(t *testing.T, graph *fakeGraphStore, vector *fakeVectorStore, cfg config.MemoryConfig) *Assembler {
	t.Helper()
	facts := memory.NewFactStore(graph, vector)
	profiles, err := memory.NewProfiles(graph, 16, time.Minute)
	if err != nil {
		t.Fatalf("NewProfiles failed: %v", err)
	}
	return NewAssembler(graph, facts, profiles, cfg)
}

func seedHistory(graph *fakeGraphStore, threadID string, n int, content string) {
	for i := 0; i < n; i++ {
		graph.AppendTurn(context.Background(), &models.Turn{
			ThreadID:    threadID,
			UserMessage: &models.Message{ThreadID: threadID, Role: models.SpeakerUser, Content: content},
		})
	}
}

func TestAssembleReturnsChronologicalHistory(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: true, HistoryWindow: 10, TokenBudget: 8192, RecallTopK: 4,
	})
	seedHistory(graph, "c1", 5, "hello there")

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "hi")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(pkg.History) != 5 {
		t.Fatalf("history length = %d, want 5", len(pkg.History))
	}
	for i := 1; i < len(pkg.History); i++ {
		if pkg.History[i].Ordinal <= pkg.History[i-1].Ordinal {
			t.Fatal("history is not in chronological order")
		}
	}
}

func TestAssembleTruncatesOldestHistoryFirst(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	// Each message is ~25 tokens; budget fits only a couple of them.
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: true, HistoryWindow: 50, TokenBudget: 100, PromptOverhead: 10, RecallTopK: 4,
	})
	seedHistory(graph, "c1", 10, strings.Repeat("word ", 20))

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "hi")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(pkg.History) == 0 || len(pkg.History) >= 10 {
		t.Fatalf("expected partial history, got %d messages", len(pkg.History))
	}
	// The survivors must be the newest ones.
	last := pkg.History[len(pkg.History)-1]
	if last.Ordinal != 10 {
		t.Errorf("newest surviving ordinal = %d, want 10", last.Ordinal)
	}
}

func TestAssembleDegradesHistoryAfterRetries(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	graph.failRecent = 10
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: true, HistoryWindow: 10, TokenBudget: 8192, RecallTopK: 4,
	})

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "hi")
	if err != nil {
		t.Fatalf("Assemble must not fail the turn: %v", err)
	}
	if !pkg.Degraded.History {
		t.Error("expected history degradation flag")
	}
}

func TestAssembleRetriesTransientHistoryFailure(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	graph.failRecent = 1 // first call fails, retry succeeds
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: true, HistoryWindow: 10, TokenBudget: 8192, RecallTopK: 4,
	})
	seedHistory(graph, "c1", 2, "hello")

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "hi")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if pkg.Degraded.History {
		t.Error("transient failure must not degrade the tier")
	}
	if len(pkg.History) != 2 {
		t.Errorf("history length = %d, want 2", len(pkg.History))
	}
}

func TestAssembleDegradesRecallNotTurn(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	vector.failSearch = 10
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: true, HistoryWindow: 10, TokenBudget: 8192, RecallTopK: 4,
	})

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "hi")
	if err != nil {
		t.Fatalf("Assemble must not fail the turn: %v", err)
	}
	if !pkg.Degraded.Recall {
		t.Error("expected recall degradation flag")
	}
	if pkg.Degraded.History || pkg.Degraded.Profile {
		t.Error("other tiers must stay intact")
	}
}

func TestAssembleRetriesTransientRecallFailure(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	vector.failSearch = 1 // first call fails, retry succeeds
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: true, HistoryWindow: 10, TokenBudget: 8192, RecallTopK: 4, SimilarityThreshold: 0.5,
	})

	facts := memory.NewFactStore(graph, vector)
	if err := facts.Commit(context.Background(), &models.Fact{Content: "likes hiking", SubjectUserID: "u1"}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "hiking")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if pkg.Degraded.Recall {
		t.Error("transient failure must not degrade the tier")
	}
	if len(pkg.Facts) != 1 {
		t.Errorf("recalled facts = %d, want 1", len(pkg.Facts))
	}
}

func TestAssembleMemoryDisabledSkipsRecall(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	vector.failSearch = 10 // would degrade if it were called
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: false, HistoryWindow: 10, TokenBudget: 8192, RecallTopK: 4,
	})

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "hi")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(pkg.Facts) != 0 || pkg.Degraded.Recall {
		t.Error("recall must be skipped entirely when memory is disabled")
	}
}

func TestAssembleRecallsCommittedFacts(t *testing.T) {
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	asm := testAssembler(t, graph, vector, config.MemoryConfig{
		Enabled: true, HistoryWindow: 10, TokenBudget: 8192, RecallTopK: 4, SimilarityThreshold: 0.5,
	})

	facts := memory.NewFactStore(graph, vector)
	if err := facts.Commit(context.Background(), &models.Fact{Content: "the cat is called Miso", SubjectUserID: "u1"}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	pkg, err := asm.Assemble(context.Background(), "c1", "u1", "cat")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(pkg.Facts) != 1 {
		t.Fatalf("expected the committed fact to be recalled, got %d", len(pkg.Facts))
	}
}

func TestBuildSystemPromptIncludesProfileAndQueue(t *testing.T) {
	persona := config.PersonaConfig{Name: "Dot", Personality: "Dry wit."}
	pkg := &models.ContextPackage{
		Profile: models.UserProfile{
			User:  models.User{UserID: "u1", Username: "sam", Alias: "Sammy"},
			Facts: []*models.Fact{{Content: "prefers tea"}},
		},
		Facts: []*models.Fact{{Content: "the office is closed on Fridays"}},
	}

	prompt := BuildSystemPrompt(persona, pkg, 2)
	for _, want := range []string{"Dot", "Sammy", "prefers tea", "closed on Fridays", "2 more message"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
