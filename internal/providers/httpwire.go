package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPWireClient is the one concrete WireClient this module ships: an
// OpenAI-compatible /chat/completions caller. Grounded on the
// teacher's internal/providers/openai.go (apiBase/apiKey/chatPath
// shape, 120s client timeout), generalized to implement the neutral
// WireClient seam instead of returning a provider-specific struct —
// spec.md explicitly excludes implementing AI providers, so this
// exists only to let GeminiProvider/OpenAIProvider be exercised against
// a real OpenAI-wire-compatible endpoint (OpenAI itself, or any
// self-hosted gateway speaking the same schema) when one is configured.
type HTTPWireClient struct {
	apiBase  string
	apiKey   string
	chatPath string
	client   *http.Client
}

func NewHTTPWireClient(apiBase, apiKey string) *HTTPWireClient {
	apiBase = strings.TrimRight(apiBase, "/")
	return &HTTPWireClient{
		apiBase:  apiBase,
		apiKey:   apiKey,
		chatPath: "/chat/completions",
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function wireToolCallFn  `json:"function"`
}

type wireToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolSpec `json:"function"`
}

type wireToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *HTTPWireClient) Send(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	wireReq := wireRequest{Model: req.Model, Temperature: req.Temperature}
	for _, m := range req.Messages {
		wireReq.Messages = append(wireReq.Messages, toWireMessage(m))
	}
	for _, t := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, wireTool{
			Type: "function",
			Function: wireToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+c.chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("providers: build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers: chat call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers: read chat response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("providers: chat call status %d: %s", resp.StatusCode, string(data))
	}

	var wireResp wireResponse
	if err := json.Unmarshal(data, &wireResp); err != nil {
		return nil, fmt.Errorf("providers: unmarshal chat response: %w", err)
	}
	if len(wireResp.Choices) == 0 {
		return nil, fmt.Errorf("providers: chat response had no choices")
	}

	choice := wireResp.Choices[0]
	out := &ChatResponse{
		Content: choice.Message.Content,
		Usage: &Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

// CreateCache is a no-op cache creator: this reference client has no
// remote cache to resolve, so GeminiProvider degrades silently to
// inline system prompt for every call, exactly the fallback spec.md
// §4.5 describes for "cache creation failure".
func (c *HTTPWireClient) CreateCache(ctx context.Context, model, systemPrompt string, toolDefs []ToolDefinition) (string, error) {
	return "", fmt.Errorf("providers: no remote system-prompt cache configured")
}

func toWireMessage(m Message) wireMessage {
	wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, Name: m.ToolName}
	for _, tc := range m.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireToolCallFn{Name: tc.Name, Arguments: string(args)},
		})
	}
	return wm
}

var _ WireClient = (*HTTPWireClient)(nil)
var _ CacheCreator = (*HTTPWireClient)(nil)
