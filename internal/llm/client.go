// Package llm defines the model-invocation capability consumed by the
// prompt processing pipeline, plus a Gemini-backed implementation.
package llm

import "context"

// Message roles on the wire. The pipeline uses RoleTool for tool results it
// feeds back to the model between the primary and follow-up invocations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one entry in the message list sent to the model. Name is
// only set for tool-role messages and carries the tool name.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Tool describes one entry in the tool manifest passed to the model.
// Parameters is a JSON-schema-shaped map.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a structured tool-call request returned by the model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Usage reports token accounting for one invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a single model invocation. Tools is optional; when present the
// model may return tool-call requests alongside or instead of text content.
type Request struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Messages    []ChatMessage
	Tools       []Tool
}

// Response is the result of one model invocation.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client is the model-invocation capability. Implementations carry their own
// timeout and retry policy; callers treat any error uniformly.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
