// Package llm abstracts the chat-completion providers the analysis
// agent talks to. The agent only sees the uniform "send context, get
// back either tool calls or a final message" contract defined here.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Roles used in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrMalformedResponse is returned when a provider response cannot be
// interpreted. It is retryable.
var ErrMalformedResponse = errors.New("malformed provider response")

// Provider is the uniform chat-completion interface.
type Provider interface {
	// Complete performs one chat completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name (e.g., "openai").
	Name() string
}

// Message is one entry of the conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Tool is a function definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request is a chat-completion request.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
}

// Response is a chat-completion response: either ToolCalls is
// non-empty (the model wants tools run) or Content is the final
// assistant message.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// WantsTools reports whether the model requested tool execution.
func (r *Response) WantsTools() bool { return len(r.ToolCalls) > 0 }

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
