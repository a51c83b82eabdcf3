package tools

import (
	"context"
	"testing"
)

func TestInquireForDetailsIsTerminal(t *testing.T) {
	tool := NewInquireForDetails()

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"clarifying_question_to_ask": "Which city did you mean?",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Terminal {
		t.Error("a clarifying question must end the turn")
	}
	if result.Content != "Which city did you mean?" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestInquireForDetailsRejectsEmptyQuestion(t *testing.T) {
	tool := NewInquireForDetails()

	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Fatal("expected an error for a missing question")
	}
}
