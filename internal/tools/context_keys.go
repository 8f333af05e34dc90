package tools

import "context"

// Execution context keys carrying per-call metadata into BUILTIN tool
// implementations. Generalized down from the teacher's much larger
// context-key set (channel/peer-kind/sandbox/workspace/vision/imagegen)
// to the two identifiers this orchestrator's builtins actually need:
// which bot and which session a call is running against.
type toolContextKey string

const (
	ctxBotID     toolContextKey = "tool_bot_id"
	ctxSessionID toolContextKey = "tool_session_id"
)

func WithBotID(ctx context.Context, botID string) context.Context {
	return context.WithValue(ctx, ctxBotID, botID)
}

func BotIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxBotID).(string)
	return v
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxSessionID, sessionID)
}

func SessionIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionID).(string)
	return v
}
