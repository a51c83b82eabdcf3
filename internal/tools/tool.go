package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Result is the uniform outcome of a tool execution. Content is what the
// model sees as the observation; Terminal marks results that already answer
// the user, so the loop can finish without another model call.
type Result struct {
	Content      string   `json:"content"`
	Terminal     bool     `json:"terminal,omitempty"`
	ArtifactURLs []string `json:"artifact_urls,omitempty"`
}

// Tool is one callable capability. The manifest doubles as the schema the
// registry validates arguments against before Execute ever runs.
type Tool interface {
	// Manifest describes the tool for the model: name, description and
	// argument schema.
	Manifest() mcp.Tool
	// Execute runs the tool with already-validated arguments. The context
	// carries the per-tool timeout.
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}
