package agent

import (
	"context"
	"encoding/json"

	"github.com/deco-cx/agent-runtime/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of one API (Anthropic direct, OpenAI
// compatible gateway) while presenting a unified streaming interface to the
// runtime. Implementations must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The
	// channel is closed after the Done chunk or an Error chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model is the API identifier, without the provider prefix.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may request to execute. Empty disables tool calling.
	Tools []ToolDef `json:"tools,omitempty"`

	// MaxTokens limits the generated response. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature, when non-nil, overrides the provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// EnableThinking turns on extended thinking for supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens is the token budget for extended thinking.
	// Only used when EnableThinking is true; the minimum is 1024.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is a single message in a conversation. Role values are
// "user", "assistant" and "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// ToolDef describes one callable tool to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompletionChunk is a single chunk in a streaming LLM response.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// Thinking contains reasoning text when extended thinking is enabled.
	Thinking string `json:"thinking,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// Usage is populated on the final chunk only.
	Usage *models.Usage `json:"usage,omitempty"`
}
