package tools

import (
	"context"
	"testing"
)

func TestOverthinkInputEchoesThoughtAsObservation(t *testing.T) {
	tool := NewOverthinkInput()

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"detailed_thought_process": "they sound stressed about the deadline",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Terminal {
		t.Error("a thought must not end the turn")
	}
	if result.Content != "they sound stressed about the deadline" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestOverthinkInputEmptyThoughtStillObserves(t *testing.T) {
	tool := NewOverthinkInput()

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Content == "" {
		t.Error("expected a placeholder observation")
	}
}
