package models

import "time"

// Thread identifies one conversation context (a channel or a DM). All
// ordering guarantees are scoped to a single thread.
type Thread struct {
	ThreadID  string    `json:"thread_id"`
	ChannelID string    `json:"channel_id"`
	IsDM      bool      `json:"is_dm"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one immutable conversational turn element inside a thread.
// Ordinal is assigned by the graph store at commit time and is strictly
// increasing per thread with no gaps.
type Message struct {
	MessageID    string      `json:"message_id"`
	ThreadID     string      `json:"thread_id"`
	AuthorUserID string      `json:"author_user_id,omitempty"`
	Role         SpeakerRole `json:"role"`
	Content      string      `json:"content"`
	Ordinal      int64       `json:"ordinal"`
	TokenCount   int         `json:"token_count"`
	Timestamp    time.Time   `json:"timestamp"`
}

// ToolInvocation records one tool execution inside a turn, linked to the
// assistant message that produced it.
type ToolInvocation struct {
	InvocationID string    `json:"invocation_id"`
	ToolName     string    `json:"tool_name"`
	ArgsJSON     string    `json:"args_json"`
	Result       string    `json:"result"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
}

// InboundMessage is a user message as delivered by a chat connector, before
// any IDs or ordinals have been assigned.
type InboundMessage struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	ChannelID   string `json:"channel_id"`
	Text        string `json:"text"`
	IsDM        bool   `json:"is_dm"`
	Attachments []Blob `json:"attachments,omitempty"`
}

// Turn is the complete record of one exchange, written back to the stores as
// a single logical unit once the decision loop finishes.
type Turn struct {
	ThreadID    string           `json:"thread_id"`
	UserMessage *Message         `json:"user_message"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	Reply       *Message         `json:"reply,omitempty"`
}

// DecisionType distinguishes the two shapes a model decision can take.
type DecisionType string

const (
	DecisionDirectAnswer DecisionType = "direct_answer"
	DecisionToolCall     DecisionType = "tool_call"
)

// Decision is the parsed outcome of one model call inside the loop. Exactly
// one of Text or ToolCall is meaningful, selected by Type.
type Decision struct {
	Type     DecisionType  `json:"type"`
	Text     string        `json:"text,omitempty"`
	ToolCall *FunctionCall `json:"tool_call,omitempty"`
}

// LoopState names the observable states of the decision loop, published to
// the audit stream and asserted in tests.
type LoopState string

const (
	StateAssembling       LoopState = "assembling"
	StateAwaitingDecision LoopState = "awaiting_decision"
	StateToolRunning      LoopState = "tool_running"
	StateDone             LoopState = "done"
	StateAborted          LoopState = "aborted"
)

// ContextPackage is the bounded snapshot handed to the model: recent history,
// recalled facts, the speaker's profile and the tool manifest. Degraded flags
// record which tiers were skipped because a store was unreachable.
type ContextPackage struct {
	History  []*Message  `json:"history"`
	Facts    []*Fact     `json:"facts"`
	Profile  UserProfile `json:"profile"`
	Degraded Degradation `json:"degraded"`
}

// Degradation flags which context tiers could not be populated.
type Degradation struct {
	History bool `json:"history,omitempty"`
	Recall  bool `json:"recall,omitempty"`
	Profile bool `json:"profile,omitempty"`
}

// Any reports whether any tier was degraded.
func (d Degradation) Any() bool {
	return d.History || d.Recall || d.Profile
}

// TurnResult is what the loop hands back to the gateway when a turn ends.
type TurnResult struct {
	Reply       string           `json:"reply"`
	State       LoopState        `json:"state"`
	Iterations  int              `json:"iterations"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	ArtifactURL string           `json:"artifact_url,omitempty"`
}

// TurnEvent is one audit record published to Kafka as the loop moves through
// its states.
type TurnEvent struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id,omitempty"`
	State     LoopState `json:"state"`
	Iteration int       `json:"iteration,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
