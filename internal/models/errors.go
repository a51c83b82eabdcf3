package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration engine. Callers branch with
// errors.Is/errors.As; everything else is wrapped context.
var (
	// ErrStoreUnavailable marks a memory store that could not be reached
	// after bounded retries. Context assembly treats it as a degradation,
	// write-back treats it as fatal for the turn.
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrThreadBusy is returned in "reject" session mode when a turn is
	// already in flight for the thread.
	ErrThreadBusy = errors.New("thread busy")

	// ErrPairingViolation marks a fact whose graph node and embedding could
	// not be brought to a consistent committed state and whose rollback also
	// failed. It is always logged at error level.
	ErrPairingViolation = errors.New("fact/embedding pairing violation")
)

// InferenceError wraps a failure of the model endpoint. Retryable reports
// whether the loop should retry the call before aborting the turn.
type InferenceError struct {
	Retryable bool
	Err       error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference endpoint: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ToolValidationError reports tool arguments that failed schema validation.
// The tool was never executed.
type ToolValidationError struct {
	Tool   string
	Reason string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %q arguments invalid: %s", e.Tool, e.Reason)
}

// ToolExecutionError reports a tool that was executed and failed, including
// timeouts. The loop surfaces it to the model as an observation, not as a
// turn failure.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
