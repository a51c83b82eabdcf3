package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/madcadaver/dbot/internal/models"

	"github.com/mark3labs/mcp-go/mcp"
)

// echoTool is a minimal tool for registry tests.
type echoTool struct {
	executed bool
	delay    time.Duration
	err      error
}

func (e *echoTool) Manifest() mcp.Tool {
	return mcp.NewTool(
		"echo",
		mcp.WithDescription("Echo the message back."),
		mcp.WithString("message",
			mcp.Description("Text to echo"),
			mcp.Required(),
		),
	)
}

func (e *echoTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	e.executed = true
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	msg, _ := args["message"].(string)
	return &Result{Content: msg}, nil
}

func TestRegistryExecuteSuccess(t *testing.T) {
	reg := NewRegistry(time.Second)
	tool := &echoTool{}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := reg.Execute(context.Background(), "echo", map[string]interface{}{"message": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("got %q, want %q", result.Content, "hello")
	}
}

func TestRegistryRejectsInvalidArgsWithoutExecuting(t *testing.T) {
	reg := NewRegistry(time.Second)
	tool := &echoTool{}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := reg.Execute(context.Background(), "echo", map[string]interface{}{})
	var verr *models.ToolValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ToolValidationError, got %v", err)
	}
	if tool.executed {
		t.Error("tool must not run when validation fails")
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(time.Second)

	_, err := reg.Execute(context.Background(), "nope", nil)
	var verr *models.ToolValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ToolValidationError, got %v", err)
	}
}

func TestRegistryCallerCancellationDoesNotKillRunningTool(t *testing.T) {
	reg := NewRegistry(time.Second)
	tool := &echoTool{delay: 100 * time.Millisecond}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := reg.Execute(ctx, "echo", map[string]interface{}{"message": "still here"})
	if err != nil {
		t.Fatalf("a running tool must finish despite caller cancellation: %v", err)
	}
	if result.Content != "still here" {
		t.Errorf("got %q, want %q", result.Content, "still here")
	}
}

func TestRegistryTimeout(t *testing.T) {
	reg := NewRegistry(50 * time.Millisecond)
	tool := &echoTool{delay: time.Second}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := reg.Execute(context.Background(), "echo", map[string]interface{}{"message": "slow"})
	var xerr *models.ToolExecutionError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
}

func TestRegistryExecutionErrorIsStructured(t *testing.T) {
	reg := NewRegistry(time.Second)
	tool := &echoTool{err: errors.New("boom")}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := reg.Execute(context.Background(), "echo", map[string]interface{}{"message": "x"})
	var xerr *models.ToolExecutionError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
	if xerr.Tool != "echo" {
		t.Errorf("error names tool %q, want %q", xerr.Tool, "echo")
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	reg := NewRegistry(time.Second)
	if err := reg.Register(&echoTool{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(&echoTool{}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryManifests(t *testing.T) {
	reg := NewRegistry(time.Second)
	if err := reg.Register(&echoTool{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	manifests := reg.Manifests()
	if len(manifests) != 1 || manifests[0].Name != "echo" {
		t.Fatalf("unexpected manifests: %+v", manifests)
	}
}
