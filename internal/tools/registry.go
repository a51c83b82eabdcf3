package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the registered tools and runs them behind a uniform
// contract: schema validation first, then execution under a deadline.
// Registration happens at startup; execution is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	timeout time.Duration
	log     *logger.Logger
}

// NewRegistry creates an empty registry with the given per-tool timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		timeout: timeout,
		log:     logger.New("tool_registry", "", ""),
	}
}

// Register adds a tool, compiling its argument schema up front so malformed
// manifests fail at startup rather than mid-turn.
func (r *Registry) Register(tool Tool) error {
	manifest := tool.Manifest()
	name := manifest.Name

	schemaJSON, err := json.Marshal(manifest.InputSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema for tool %q: %w", name, err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	r.schemas[name] = schema
	return nil
}

// Manifests returns the manifest of every registered tool, for the model's
// tool declarations and for the context package.
func (r *Registry) Manifests() []*mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	manifests := make([]*mcp.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		m := tool.Manifest()
		manifests = append(manifests, &m)
	}
	return manifests
}

// Execute validates the arguments against the tool's schema and runs it under
// the per-tool timeout. Unknown tools and invalid arguments come back as
// *models.ToolValidationError without touching the tool; execution failures
// and timeouts come back as *models.ToolExecutionError. Either way the error
// is an observation for the model, not a turn failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &models.ToolValidationError{Tool: name, Reason: "unknown tool"}
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	// Round-trip through JSON so the validator sees plain decoded values.
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, &models.ToolValidationError{Tool: name, Reason: err.Error()}
	}
	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &models.ToolValidationError{Tool: name, Reason: err.Error()}
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, &models.ToolValidationError{Tool: name, Reason: err.Error()}
	}

	// An in-flight execution finishes (or times out) even if the caller's
	// context is cancelled mid-run: a half-applied side effect is worse than
	// a reply nobody reads.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(execCtx, args)
	elapsed := time.Since(start)
	if err != nil {
		r.log.WithPayload(map[string]interface{}{
			"tool":       name,
			"elapsed_ms": elapsed.Milliseconds(),
		}).Warn(fmt.Sprintf("tool %q failed: %v", name, err))
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, &models.ToolExecutionError{Tool: name, Err: fmt.Errorf("timed out after %s", r.timeout)}
		}
		return nil, &models.ToolExecutionError{Tool: name, Err: err}
	}

	r.log.WithPayload(map[string]interface{}{
		"tool":       name,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Debug(fmt.Sprintf("tool %q finished", name))
	return result, nil
}
