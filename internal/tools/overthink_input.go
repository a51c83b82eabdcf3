package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// OverthinkInput lets the model reason out loud before answering. The thought
// it hands over comes straight back as an observation for the next iteration;
// nothing is stored and no external call is made.
type OverthinkInput struct{}

// NewOverthinkInput creates the overthink_input tool.
func NewOverthinkInput() *OverthinkInput {
	return &OverthinkInput{}
}

func (t *OverthinkInput) Manifest() mcp.Tool {
	return mcp.NewTool(
		"overthink_input",
		mcp.WithDescription("Analyze the user's input for subtext, hidden meanings, deeper intentions and emotional state. Generate a detailed thought process before deciding how to respond."),
		mcp.WithString("detailed_thought_process",
			mcp.Description("The full reasoning about what the user really means"),
			mcp.Required(),
		),
	)
}

func (t *OverthinkInput) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	thought, _ := args["detailed_thought_process"].(string)
	if thought == "" {
		thought = "I've analyzed the situation."
	}
	return &Result{Content: thought}, nil
}
