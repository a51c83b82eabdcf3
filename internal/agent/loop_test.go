package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/llm"
	"github.com/madcadaver/dbot/internal/memory"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/internal/tools"

	"github.com/mark3labs/mcp-go/mcp"
)

// scriptedModel returns canned responses in order, then repeats the last one.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*models.GenerateContentResponse
	errs      []error
	calls     int
	lastReq   *models.GenerateContentRequest
}

func (m *scriptedModel) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if len(m.responses) == 0 {
		return &models.GenerateContentResponse{}, nil
	}
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func (m *scriptedModel) GenerateContentStream(ctx context.Context, req *models.GenerateContentRequest) (<-chan *models.GenerateContentResponse, error) {
	return nil, errors.New("not implemented")
}

func textResponse(text string) *models.GenerateContentResponse {
	return &models.GenerateContentResponse{
		Content: []models.Content{
			{Role: models.SpeakerModel, Parts: []*models.Part{{Text: text}}},
		},
	}
}

func toolCallResponse(name string, args map[string]any) *models.GenerateContentResponse {
	return &models.GenerateContentResponse{
		Content: []models.Content{
			{Role: models.SpeakerModel, Parts: []*models.Part{{FunctionCall: &models.FunctionCall{Name: name, Args: args}}}},
		},
	}
}

// memoTool remembers whether it ran.
type memoTool struct {
	name     string
	terminal bool
	runs     int
}

func (m *memoTool) Manifest() mcp.Tool {
	return mcp.NewTool(
		m.name,
		mcp.WithDescription("test tool"),
		mcp.WithString("value",
			mcp.Description("any value"),
			mcp.Required(),
		),
	)
}

func (m *memoTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	m.runs++
	value, _ := args["value"].(string)
	return &tools.Result{Content: "observed " + value, Terminal: m.terminal}, nil
}

func testAgentCfg() config.AgentConfig {
	return config.AgentConfig{
		MaxIterations: 5,
		SessionMode:   SessionModeQueue,
		FallbackReply: "Sorry, I lost my train of thought.",
	}
}

func newTestLoop(t *testing.T, model llm.LLM, extraTools ...tools.Tool) (*Loop, *fakeGraphStore) {
	t.Helper()
	graph := newFakeGraphStore()
	vector := newFakeVectorStore()
	facts := memory.NewFactStore(graph, vector)
	profiles, err := memory.NewProfiles(graph, 16, time.Minute)
	if err != nil {
		t.Fatalf("NewProfiles failed: %v", err)
	}
	writer := memory.NewTurnWriter(graph, facts)
	assembler := NewAssembler(graph, facts, profiles, config.MemoryConfig{
		Enabled:       true,
		HistoryWindow: 20,
		TokenBudget:   8192,
		RecallTopK:    4,
	})
	registry := tools.NewRegistry(time.Second)
	for _, tool := range extraTools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	persona := config.PersonaConfig{Name: "Dot", Personality: "Helpful and brief."}
	return NewLoop(model, registry, assembler, writer, graph, profiles, nil, testAgentCfg(), persona), graph
}

func inboundMsg(text string) *models.InboundMessage {
	return &models.InboundMessage{
		UserID:    "u1",
		Username:  "sam",
		ChannelID: "c1",
		Text:      text,
	}
}

func TestLoopDirectAnswer(t *testing.T) {
	model := &scriptedModel{responses: []*models.GenerateContentResponse{textResponse("hi there")}}
	loop, graph := newTestLoop(t, model)

	result, err := loop.RunTurn(context.Background(), inboundMsg("hello"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if result.State != models.StateDone {
		t.Errorf("state = %q, want done", result.State)
	}
	if result.Reply != "hi there" {
		t.Errorf("reply = %q", result.Reply)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if len(graph.messages["c1"]) != 2 {
		t.Errorf("expected user message and reply written back, got %d", len(graph.messages["c1"]))
	}
}

func TestLoopToolCallThenAnswer(t *testing.T) {
	tool := &memoTool{name: "lookup"}
	model := &scriptedModel{responses: []*models.GenerateContentResponse{
		toolCallResponse("lookup", map[string]any{"value": "x"}),
		textResponse("done with the lookup"),
	}}
	loop, _ := newTestLoop(t, model, tool)

	result, err := loop.RunTurn(context.Background(), inboundMsg("check it"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if tool.runs != 1 {
		t.Errorf("tool ran %d times, want 1", tool.runs)
	}
	if result.State != models.StateDone || result.Reply != "done with the lookup" {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(result.Invocations) != 1 || !result.Invocations[0].Success {
		t.Errorf("expected one successful invocation, got %+v", result.Invocations)
	}
}

func TestLoopTerminalToolEndsTurn(t *testing.T) {
	tool := &memoTool{name: "finish", terminal: true}
	model := &scriptedModel{responses: []*models.GenerateContentResponse{
		toolCallResponse("finish", map[string]any{"value": "now"}),
	}}
	loop, _ := newTestLoop(t, model, tool)

	result, err := loop.RunTurn(context.Background(), inboundMsg("wrap up"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if result.Reply != "observed now" {
		t.Errorf("reply = %q", result.Reply)
	}
	if model.calls != 1 {
		t.Errorf("model called %d times after terminal tool, want 1", model.calls)
	}
}

func TestLoopIterationCapAborts(t *testing.T) {
	tool := &memoTool{name: "again"}
	model := &scriptedModel{responses: []*models.GenerateContentResponse{
		toolCallResponse("again", map[string]any{"value": "loop"}),
	}}
	loop, _ := newTestLoop(t, model, tool)

	result, err := loop.RunTurn(context.Background(), inboundMsg("never stop"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if result.State != models.StateAborted {
		t.Errorf("state = %q, want aborted", result.State)
	}
	if result.Reply != testAgentCfg().FallbackReply {
		t.Errorf("expected fallback reply, got %q", result.Reply)
	}
	if result.Iterations != 5 {
		t.Errorf("iterations = %d, want 5", result.Iterations)
	}
}

func TestLoopEmptyResponseFallsBack(t *testing.T) {
	model := &scriptedModel{responses: []*models.GenerateContentResponse{{}}}
	loop, graph := newTestLoop(t, model)

	result, err := loop.RunTurn(context.Background(), inboundMsg("say nothing"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if result.State != models.StateAborted {
		t.Errorf("state = %q, want aborted", result.State)
	}
	if result.Reply == "" {
		t.Error("a turn must always produce a reply")
	}
	// The exchange is still recorded.
	if len(graph.messages["c1"]) != 2 {
		t.Errorf("expected turn written back, got %d messages", len(graph.messages["c1"]))
	}
}

func TestLoopAttachmentsReachTheModel(t *testing.T) {
	model := &scriptedModel{responses: []*models.GenerateContentResponse{textResponse("nice photo")}}
	loop, _ := newTestLoop(t, model)

	inbound := inboundMsg("look at this")
	inbound.Attachments = []models.Blob{{MIMEType: "image/png", Data: []byte{0x89, 0x50}}}

	if _, err := loop.RunTurn(context.Background(), inbound, 0); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	userContent := model.lastReq.Content[len(model.lastReq.Content)-1]
	var inline int
	for _, part := range userContent.Parts {
		if part.InlineData != nil && part.InlineData.MIMEType == "image/png" {
			inline++
		}
	}
	if inline != 1 {
		t.Errorf("expected one inline attachment on the user content, got %d", inline)
	}
}

func TestLoopModelFailureExhaustsRetriesThenAborts(t *testing.T) {
	transient := &models.InferenceError{Retryable: true, Err: errors.New("upstream 503")}
	model := &scriptedModel{errs: []error{transient, transient, transient}}
	loop, graph := newTestLoop(t, model)

	result, err := loop.RunTurn(context.Background(), inboundMsg("hello"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if model.calls != 3 {
		t.Errorf("model called %d times, want 3", model.calls)
	}
	if result.State != models.StateAborted {
		t.Errorf("state = %q, want aborted", result.State)
	}
	if result.Reply != testAgentCfg().FallbackReply {
		t.Errorf("reply = %q, want the fallback line", result.Reply)
	}
	// The user message and the fallback reply still land in the thread.
	if len(graph.messages["c1"]) != 2 {
		t.Errorf("expected turn written back, got %d messages", len(graph.messages["c1"]))
	}
}

func TestLoopModelFatalErrorSkipsRetries(t *testing.T) {
	fatal := &models.InferenceError{Retryable: false, Err: errors.New("invalid api key")}
	model := &scriptedModel{errs: []error{fatal}}
	loop, _ := newTestLoop(t, model)

	result, err := loop.RunTurn(context.Background(), inboundMsg("hello"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if model.calls != 1 {
		t.Errorf("model called %d times, want 1", model.calls)
	}
	if result.State != models.StateAborted || result.Reply == "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestLoopToolValidationFailureContinues(t *testing.T) {
	tool := &memoTool{name: "strict"}
	model := &scriptedModel{responses: []*models.GenerateContentResponse{
		toolCallResponse("strict", map[string]any{}), // missing required arg
		textResponse("recovered"),
	}}
	loop, _ := newTestLoop(t, model, tool)

	result, err := loop.RunTurn(context.Background(), inboundMsg("try it"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if tool.runs != 0 {
		t.Error("tool must not run on invalid arguments")
	}
	if result.Reply != "recovered" {
		t.Errorf("reply = %q", result.Reply)
	}
	if len(result.Invocations) != 1 || result.Invocations[0].Success {
		t.Errorf("expected one failed invocation, got %+v", result.Invocations)
	}
}

func TestLoopUnknownToolContinues(t *testing.T) {
	model := &scriptedModel{responses: []*models.GenerateContentResponse{
		toolCallResponse("ghost", map[string]any{"value": "x"}),
		textResponse("no such tool, answering directly"),
	}}
	loop, _ := newTestLoop(t, model)

	result, err := loop.RunTurn(context.Background(), inboundMsg("use ghost"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if result.State != models.StateDone {
		t.Errorf("state = %q, want done", result.State)
	}
}

func TestLoopAliasFastPathSkipsModel(t *testing.T) {
	model := &scriptedModel{}
	loop, graph := newTestLoop(t, model)

	if err := graph.EnsureUser(context.Background(), &models.User{UserID: "u1", Username: "sam"}); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}

	result, err := loop.RunTurn(context.Background(), inboundMsg("call me Sammy"), 0)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if model.calls != 0 {
		t.Errorf("model called %d times on alias fast path", model.calls)
	}
	if result.State != models.StateDone {
		t.Errorf("state = %q", result.State)
	}
	user, _ := graph.GetUser(context.Background(), "u1")
	if user.Alias != "Sammy" {
		t.Errorf("alias = %q, want Sammy", user.Alias)
	}
	facts, _ := graph.UserFacts(context.Background(), "u1", 10)
	if len(facts) != 1 || !strings.Contains(facts[0].Content, "Sammy") {
		t.Errorf("expected the name preference stored as a fact, got %+v", facts)
	}
}

func TestDetectAlias(t *testing.T) {
	cases := []struct {
		in    string
		alias string
		ok    bool
	}{
		{"call me Ishmael", "Ishmael", true},
		{"My name is Kat.", "Kat", true},
		{"please refer to me as The Boss", "The Boss", true},
		{"can you call me later today", "", false},
		{"what's my name?", "", false},
	}
	for _, c := range cases {
		alias, ok := DetectAlias(c.in)
		if ok != c.ok || alias != c.alias {
			t.Errorf("DetectAlias(%q) = (%q, %v), want (%q, %v)", c.in, alias, ok, c.alias, c.ok)
		}
	}
}
