// Package providers defines the neutral chat-completion contract
// (spec.md §4.5) and two reference provider implementations that map
// the neutral shape to and from provider-specific wire formats. Real
// network calls are delegated to a small WireClient seam so the
// provider logic itself — history mapping, thought-signature handling,
// prompt caching, failover — is exercised without needing a live AI
// backend (spec.md explicitly excludes implementing AI providers).
//
// Shapes are grounded on internal/providers/types.go of the teacher
// repo (vanducng/goclaw), generalized from a single "tool_calls" field
// to the richer neutral Message the spec requires (cross-provider
// thoughtSignature carrying, tool-role turns).
package providers

import "context"

// Role enumerates the four turn roles the spec allows.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one model-requested function invocation.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`

	// ThoughtSignature is Provider A's opaque continuation token. Other
	// providers leave this empty. Carried on assistant turns only.
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// Message is the neutral conversation turn shape the engine and
// ConversationStore operate on.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool turns only
	ToolName   string     `json:"tool_name,omitempty"`    // tool turns only
}

// ToolDefinition describes one tool available to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for one chat call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatRequest is the input to a Chat call.
type ChatRequest struct {
	Model         string
	Messages      []Message
	Tools         []ToolDefinition
	Temperature   float64
	ThinkingLevel string
}

// ChatResponse is the result of a Chat call.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage

	// Fallback is set by the failover wrapper when this response came
	// from the secondary provider, so the engine can pin it for the
	// remainder of the turn (spec.md §4.6.1).
	Fallback bool
}

// Provider is the abstract chat-completion contract (spec.md §4.5).
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
