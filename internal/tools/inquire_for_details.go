package tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
)

// InquireForDetails turns a clarifying question into the turn's reply. The
// result is terminal: asking the user something and then continuing to think
// without their answer would be pointless.
type InquireForDetails struct{}

// NewInquireForDetails creates the inquire_for_details tool.
func NewInquireForDetails() *InquireForDetails {
	return &InquireForDetails{}
}

func (t *InquireForDetails) Manifest() mcp.Tool {
	return mcp.NewTool(
		"inquire_for_details",
		mcp.WithDescription("Ask the user a clarifying question to resolve ambiguity or get more details. Also usable when something genuinely sparks your interest."),
		mcp.WithString("clarifying_question_to_ask",
			mcp.Description("The question to put to the user"),
			mcp.Required(),
		),
	)
}

func (t *InquireForDetails) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	question, _ := args["clarifying_question_to_ask"].(string)
	if question == "" {
		return nil, errors.New("no question to ask")
	}
	return &Result{Content: question, Terminal: true}, nil
}
