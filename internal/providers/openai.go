package providers

import "context"

// OpenAIProvider implements Provider for a "OpenAI-style" backend: tool
// calls are carried natively with no continuation token, and no
// system-prompt cache registry applies. Grounded on the teacher's
// internal/providers/openai.go request/response shape, generalized to
// the neutral Message/ToolCall types.
type OpenAIProvider struct {
	wire WireClient
	name string
}

// NewOpenAIProvider builds a Provider identified by name (e.g. "OPENAI",
// "DASHSCOPE" — spec.md's provider mapping is a configured string key,
// not a fixed enum, so any OpenAI-wire-compatible backend can reuse
// this implementation under its own name).
func NewOpenAIProvider(wire WireClient, name string) *OpenAIProvider {
	return &OpenAIProvider{wire: wire, name: name}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Chat passes the request straight through: unlike GeminiProvider there
// is no thought-signature downgrade and no prompt cache to resolve.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.wire.Send(ctx, req)
}
