package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for request-terminal conditions. These surface to the
// caller before any model call happens.
var (
	// ErrInsufficientFunds indicates the wallet rejected the generation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotInitialized indicates the agent configuration was never loaded.
	ErrNotInitialized = errors.New("agent not initialized")

	// ErrNoProvider indicates no LLM provider matched the model id.
	ErrNoProvider = errors.New("no provider configured for model")
)

// ToolCallError is the structured, non-throwing failure shape for direct
// tool invocation. It carries enough context for a caller to render the
// failure without parsing messages.
type ToolCallError struct {
	ConnectionID string `json:"connection_id,omitempty"`
	Tool         string `json:"tool"`
	Message      string `json:"message"`
	Cause        error  `json:"-"`
}

func (e *ToolCallError) Error() string {
	if e.ConnectionID != "" {
		return fmt.Sprintf("tool %s on %s: %s", e.Tool, e.ConnectionID, e.Message)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

func (e *ToolCallError) Unwrap() error {
	return e.Cause
}

func newToolCallError(connectionID, tool string, cause error) *ToolCallError {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	return &ToolCallError{
		ConnectionID: connectionID,
		Tool:         tool,
		Message:      message,
		Cause:        cause,
	}
}
