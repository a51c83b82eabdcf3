package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/database/kafka"
	"github.com/madcadaver/dbot/internal/llm"
	"github.com/madcadaver/dbot/internal/memory"
	"github.com/madcadaver/dbot/internal/memory/store"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/internal/tools"
	"github.com/madcadaver/dbot/pkg/logger"

	"github.com/google/uuid"
)

const (
	modelAttempts = 3
	modelBackoff  = time.Second
)

// Loop runs one full turn: assemble context, let the model think and act
// through tools, and write the finished exchange back to memory. Whatever
// happens inside, the caller always gets a reply.
type Loop struct {
	model     llm.LLM
	registry  *tools.Registry
	assembler *Assembler
	writer    *memory.TurnWriter
	graph     store.GraphStore
	profiles  *memory.Profiles
	publisher *kafka.TurnPublisher
	agentCfg  config.AgentConfig
	persona   config.PersonaConfig
}

// NewLoop creates a new Loop.
func NewLoop(model llm.LLM, registry *tools.Registry, assembler *Assembler, writer *memory.TurnWriter,
	graph store.GraphStore, profiles *memory.Profiles, publisher *kafka.TurnPublisher,
	agentCfg config.AgentConfig, persona config.PersonaConfig) *Loop {
	return &Loop{
		model:     model,
		registry:  registry,
		assembler: assembler,
		writer:    writer,
		graph:     graph,
		profiles:  profiles,
		publisher: publisher,
		agentCfg:  agentCfg,
		persona:   persona,
	}
}

// RunTurn handles one inbound message end to end. queueDepth is how many
// messages are waiting behind this one on the same thread.
func (l *Loop) RunTurn(ctx context.Context, inbound *models.InboundMessage, queueDepth int) (*models.TurnResult, error) {
	threadID := inbound.ChannelID
	log := logger.New("decision_loop", threadID, inbound.UserID)

	if err := l.graph.EnsureUser(ctx, &models.User{UserID: inbound.UserID, Username: inbound.Username}); err != nil {
		log.Warn(fmt.Sprintf("failed to ensure user: %v", err))
	}
	if err := l.graph.EnsureThread(ctx, &models.Thread{ThreadID: threadID, ChannelID: inbound.ChannelID, IsDM: inbound.IsDM}); err != nil {
		log.Warn(fmt.Sprintf("failed to ensure thread: %v", err))
	}

	l.publish(ctx, threadID, inbound.UserID, models.StateAssembling, 0, "")

	// Alias requests skip the model entirely.
	if alias, ok := DetectAlias(inbound.Text); ok {
		return l.handleAlias(ctx, log, inbound, threadID, alias)
	}

	pkg, err := l.assembler.Assemble(ctx, threadID, inbound.UserID, inbound.Text)
	if err != nil {
		return nil, err
	}

	contents := make([]models.Content, 0, len(pkg.History)+2)
	contents = append(contents, models.Content{
		Role:  models.SpeakerSystem,
		Parts: []*models.Part{{Text: BuildSystemPrompt(l.persona, pkg, queueDepth)}},
	})
	contents = append(contents, HistoryToContents(pkg.History)...)
	userParts := []*models.Part{{Text: inbound.Text}}
	for i := range inbound.Attachments {
		userParts = append(userParts, &models.Part{InlineData: &inbound.Attachments[i]})
	}
	contents = append(contents, models.Content{
		Role:  models.SpeakerUser,
		Parts: userParts,
	})

	result := l.decide(ctx, log, threadID, inbound.UserID, contents)

	turn := &models.Turn{
		ThreadID: threadID,
		UserMessage: &models.Message{
			ThreadID:     threadID,
			AuthorUserID: inbound.UserID,
			Role:         models.SpeakerUser,
			Content:      inbound.Text,
			TokenCount:   EstimateTokens(inbound.Text),
			Timestamp:    time.Now(),
		},
		Invocations: result.Invocations,
		Reply: &models.Message{
			ThreadID:   threadID,
			Role:       models.SpeakerAssistant,
			Content:    result.Reply,
			TokenCount: EstimateTokens(result.Reply),
			Timestamp:  time.Now(),
		},
	}
	if err := l.writer.CommitTurn(ctx, turn, nil); err != nil {
		// The user already has their reply; losing the write-back is an
		// error, not a turn failure.
		log.WithError(models.ErrorInfo{Message: err.Error(), Type: "writeback"}).
			Error("failed to commit turn")
	}

	l.publish(ctx, threadID, inbound.UserID, result.State, result.Iterations, "")
	return result, nil
}

// decide is the think-act-observe loop proper. It never returns without a
// reply string.
func (l *Loop) decide(ctx context.Context, log *logger.Logger, threadID, userID string, contents []models.Content) *models.TurnResult {
	result := &models.TurnResult{State: models.StateAborted, Reply: l.agentCfg.FallbackReply}

	for i := 0; i < l.agentCfg.MaxIterations; i++ {
		result.Iterations = i + 1
		l.publish(ctx, threadID, userID, models.StateAwaitingDecision, i+1, "")

		resp, err := l.generateWithRetry(ctx, &models.GenerateContentRequest{Content: contents})
		if err != nil {
			log.WithError(models.ErrorInfo{Message: err.Error(), Type: "inference"}).
				Error("model unavailable, aborting turn")
			return result
		}

		decision := parseDecision(resp)
		switch decision.Type {
		case models.DecisionDirectAnswer:
			if decision.Text == "" {
				// A malformed or empty response still ends the turn.
				log.Warn("model returned no usable content, using fallback reply")
				return result
			}
			result.Reply = decision.Text
			result.State = models.StateDone
			return result

		case models.DecisionToolCall:
			call := decision.ToolCall
			l.publish(ctx, threadID, userID, models.StateToolRunning, i+1, call.Name)

			observation, invocation := l.runTool(ctx, log, call)
			result.Invocations = append(result.Invocations, invocation)

			if observation.Terminal {
				result.Reply = observation.Content
				result.State = models.StateDone
				if len(observation.ArtifactURLs) > 0 {
					result.ArtifactURL = observation.ArtifactURLs[0]
				}
				return result
			}

			// The call and its observation feed the next iteration.
			contents = append(contents, models.Content{
				Role:  models.SpeakerModel,
				Parts: []*models.Part{{FunctionCall: call}},
			})
			contents = append(contents, models.Content{
				Role: models.SpeakerTool,
				Parts: []*models.Part{{FunctionResponse: &models.FunctionResponse{
					ID:       call.ID,
					Name:     call.Name,
					Response: map[string]any{"output": observation.Content},
				}}},
			})
		}
	}

	log.Warn("iteration cap reached, aborting turn")
	return result
}

// runTool executes one tool call and folds every possible failure into an
// observation the model can react to.
func (l *Loop) runTool(ctx context.Context, log *logger.Logger, call *models.FunctionCall) (*tools.Result, models.ToolInvocation) {
	invocation := models.ToolInvocation{
		InvocationID: uuid.New().String(),
		ToolName:     call.Name,
		ArgsJSON:     call.ArgsToString(),
		Timestamp:    time.Now(),
	}

	observation, err := l.registry.Execute(ctx, call.Name, call.Args)
	if err != nil {
		var verr *models.ToolValidationError
		var xerr *models.ToolExecutionError
		switch {
		case errors.As(err, &verr):
			observation = &tools.Result{Content: fmt.Sprintf("Tool call rejected: %s", verr.Reason)}
		case errors.As(err, &xerr):
			observation = &tools.Result{Content: fmt.Sprintf("Tool failed: %v", xerr.Err)}
		default:
			observation = &tools.Result{Content: fmt.Sprintf("Tool failed: %v", err)}
		}
		invocation.Result = observation.Content
		return observation, invocation
	}

	invocation.Success = true
	invocation.Result = observation.Content
	return observation, invocation
}

func (l *Loop) handleAlias(ctx context.Context, log *logger.Logger, inbound *models.InboundMessage, threadID, alias string) (*models.TurnResult, error) {
	reply := fmt.Sprintf("Got it, I'll call you %s from now on.", alias)
	var derived []*models.Fact
	if err := l.graph.SetAlias(ctx, inbound.UserID, alias); err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error(), Type: "alias"}).Error("failed to set alias")
		reply = "I couldn't save that name just now, sorry. Try again in a bit?"
	} else {
		l.profiles.Invalidate(inbound.UserID)
		// The preference is also worth recalling by similarity later.
		derived = append(derived, &models.Fact{
			Content:       fmt.Sprintf("%s prefers to be called %s", inbound.UserID, alias),
			SubjectUserID: inbound.UserID,
			Source:        "alias",
		})
	}

	turn := &models.Turn{
		ThreadID: threadID,
		UserMessage: &models.Message{
			ThreadID:     threadID,
			AuthorUserID: inbound.UserID,
			Role:         models.SpeakerUser,
			Content:      inbound.Text,
			TokenCount:   EstimateTokens(inbound.Text),
			Timestamp:    time.Now(),
		},
		Reply: &models.Message{
			ThreadID:   threadID,
			Role:       models.SpeakerAssistant,
			Content:    reply,
			TokenCount: EstimateTokens(reply),
			Timestamp:  time.Now(),
		},
	}
	if err := l.writer.CommitTurn(ctx, turn, derived); err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error(), Type: "writeback"}).
			Error("failed to commit alias turn")
	}

	l.publish(ctx, threadID, inbound.UserID, models.StateDone, 0, "alias")
	return &models.TurnResult{Reply: reply, State: models.StateDone}, nil
}

func (l *Loop) generateWithRetry(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	var resp *models.GenerateContentResponse
	var err error
	for attempt := 0; attempt < modelAttempts; attempt++ {
		resp, err = l.model.GenerateContent(ctx, req)
		if err == nil {
			return resp, nil
		}
		var infErr *models.InferenceError
		if errors.As(err, &infErr) && !infErr.Retryable {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(modelBackoff):
		}
	}
	return nil, &models.InferenceError{Retryable: false, Err: err}
}

// parseDecision classifies a model response. Anything without a function
// call is a direct answer; an unusable response parses to an empty one.
func parseDecision(resp *models.GenerateContentResponse) models.Decision {
	if resp == nil || len(resp.Content) == 0 {
		return models.Decision{Type: models.DecisionDirectAnswer}
	}
	content := resp.Content[0]
	if content.HasFunctionCall() {
		return models.Decision{Type: models.DecisionToolCall, ToolCall: content.FirstFunctionCall()}
	}
	return models.Decision{Type: models.DecisionDirectAnswer, Text: content.JoinedText()}
}

func (l *Loop) publish(ctx context.Context, threadID, userID string, state models.LoopState, iteration int, detail string) {
	l.publisher.Publish(ctx, &models.TurnEvent{
		ThreadID:  threadID,
		UserID:    userID,
		State:     state,
		Iteration: iteration,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}
