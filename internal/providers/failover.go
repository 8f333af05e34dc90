package providers

import (
	"context"
	"fmt"
)

// ModelMapping gives the fallback model name to substitute for a given
// primary model, so a failover call targets an equivalent model on the
// secondary provider rather than reusing the primary's model string.
type ModelMapping map[string]string

// FailoverClient wraps a primary Provider with a fallback Provider used
// only when the primary call fails. The caller (AIEngine) is
// responsible for pinning the fallback for the remainder of a turn
// once failover occurs (spec.md §4.6.1) — FailoverClient is stateless
// across calls by design, since pinning is a per-turn concept and this
// client is shared across concurrent turns.
type FailoverClient struct {
	primary  Provider
	fallback Provider
	models   ModelMapping
}

func NewFailoverClient(primary, fallback Provider, models ModelMapping) *FailoverClient {
	return &FailoverClient{primary: primary, fallback: fallback, models: models}
}

func (f *FailoverClient) Name() string { return f.primary.Name() }

// Chat calls the primary provider. If forcePinned is true (the turn
// already failed over once), it skips straight to the fallback. On a
// primary failure it calls the fallback with the mapped model and, on
// success, marks the response Fallback=true. If the fallback also
// fails, the original primary error is returned (spec.md §4.6.1: "the
// original error is raised if the fallback also fails").
func (f *FailoverClient) Chat(ctx context.Context, req ChatRequest, forcePinned bool) (*ChatResponse, error) {
	if forcePinned && f.fallback != nil {
		return f.chatFallback(ctx, req)
	}

	resp, err := f.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if f.fallback == nil {
		return nil, err
	}

	fbResp, fbErr := f.chatFallback(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("primary provider failed (%w); fallback also failed: %v", err, fbErr)
	}
	return fbResp, nil
}

func (f *FailoverClient) chatFallback(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if mapped, ok := f.models[req.Model]; ok {
		req.Model = mapped
	}
	resp, err := f.fallback.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Fallback = true
	return resp, nil
}
