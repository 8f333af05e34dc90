// Package agentcore implements the AIEngine spec.md §4.6 describes:
// per-session serialized execution behind a distributed lock with a
// pending-overflow queue, media preprocessing, a bounded multi-turn
// tool-call loop with cross-provider failover, and a post-release
// drain step that reprocesses exactly one pending arrival at a time.
//
// Grounded on the teacher's internal/agent Think→Act→Observe loop (no
// longer present in this tree — see DESIGN.md), generalized from a
// single long-lived chat session per agent process to many concurrent,
// lock-serialized sessions per tenant bot, and rebuilt against this
// module's neutral providers.Provider/ConversationStore/ToolExecutor
// rather than the teacher's single-provider, single-session shape.
package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nextlevelbuilder/waorchestrator/internal/conversation"
	"github.com/nextlevelbuilder/waorchestrator/internal/eventbus"
	"github.com/nextlevelbuilder/waorchestrator/internal/kv"
	"github.com/nextlevelbuilder/waorchestrator/internal/providers"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
	"github.com/nextlevelbuilder/waorchestrator/internal/tools"
)

const (
	defaultLockTTL           = 60 * time.Second
	defaultMaxIterations     = 10
	defaultMaxPendingRetries = 3
)

// InboundMessage is one unit of work the engine processes: either a
// genuinely new message or a synthetic one from the AutomationSweeper.
type InboundMessage struct {
	ExternalID string
	Content    string
	Type       store.MessageType
	MediaURL   string
}

// Sender delivers the engine's final assistant reply to the user.
// Presence is the separate, optional PresenceNotifier seam.
// runtime.Router implements both over a transport.Transport.
type Sender interface {
	SendText(ctx context.Context, sessionID, content string) error
}

// PresenceNotifier is an optional Sender capability: when the
// transport implements it, the engine reflects a composing indicator
// for the duration of a turn, best-effort.
type PresenceNotifier interface {
	SetComposing(ctx context.Context, sessionID string) error
	ClearComposing(ctx context.Context, sessionID string) error
}

// ReadMarker is an optional Sender capability: when the transport
// implements it, inbound messages are marked read before the turn
// starts, best-effort.
type ReadMarker interface {
	MarkRead(ctx context.Context, sessionID, externalID string) error
}

// Engine is the per-process AI orchestrator.
type Engine struct {
	repo     store.Repository
	kv       kv.KV
	conv     *conversation.Store
	registry *tools.Registry
	executor *tools.Executor
	client   *providers.FailoverClient
	bus      *eventbus.Bus
	sender   Sender
	media    MediaProcessor
	log      *slog.Logger

	lockTTL           time.Duration
	maxIterations     int
	maxPendingRetries int
}

type Option func(*Engine)

func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTTL = d
		}
	}
}

func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

func WithMaxPendingRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPendingRetries = n
		}
	}
}

func WithMediaProcessor(m MediaProcessor) Option {
	return func(e *Engine) { e.media = m }
}

func New(
	repo store.Repository,
	k kv.KV,
	conv *conversation.Store,
	registry *tools.Registry,
	executor *tools.Executor,
	client *providers.FailoverClient,
	bus *eventbus.Bus,
	sender Sender,
	log *slog.Logger,
	opts ...Option,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		repo: repo, kv: k, conv: conv, registry: registry, executor: executor,
		client: client, bus: bus, sender: sender, media: NoopMediaProcessor{}, log: log,
		lockTTL: defaultLockTTL, maxIterations: defaultMaxIterations, maxPendingRetries: defaultMaxPendingRetries,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func lockKey(sessionID string) string    { return "ai:lock:" + sessionID }
func pendingKey(sessionID string) string { return "ai:pending:" + sessionID }

// HandleInbound is the convenience single-message form of
// processMessages (spec.md §4.6: "convenience single-message wrapper
// delegates to the plural form"). If another turn is already running
// for this session, msg is queued and picked up by that turn's drain
// step rather than starting a second concurrent turn (spec.md §5).
func (e *Engine) HandleInbound(ctx context.Context, botID, sessionID string, msg InboundMessage) error {
	return e.ProcessMessages(ctx, botID, sessionID, []InboundMessage{msg})
}

// ProcessMessages is processMessages(sessionId, messages[]) (spec.md
// §4.6): the Accumulator's flush callback and the ingress consumer's
// single-arrival path both converge here.
func (e *Engine) ProcessMessages(ctx context.Context, botID, sessionID string, msgs []InboundMessage) error {
	return e.run(ctx, botID, sessionID, msgs, 0)
}

func (e *Engine) run(ctx context.Context, botID, sessionID string, msgs []InboundMessage, depth int) error {
	bot, err := e.repo.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("agentcore: get bot: %w", err)
	}
	if !bot.AIEnabled {
		// Trigger evaluation already happened on the ingress path; with
		// the AI disabled there is no turn to serialize, so the lock is
		// never taken.
		return nil
	}

	won, err := e.kv.SetIfAbsent(ctx, lockKey(sessionID), "1", e.lockTTL)
	if err != nil {
		return fmt.Errorf("agentcore: acquire lock: %w", err)
	}
	if !won {
		return e.enqueuePending(ctx, sessionID, msgs)
	}

	turnErr := e.processTurn(ctx, bot, sessionID, msgs)

	if err := e.kv.Del(ctx, lockKey(sessionID)); err != nil {
		e.log.Error("agentcore: lock release failed", "session_id", sessionID, "error", err)
	}

	if turnErr != nil {
		e.log.Error("agentcore: turn failed", "session_id", sessionID, "error", turnErr)
		e.bestEffortApology(ctx, sessionID)
	}

	if depth >= e.maxPendingRetries {
		return turnErr
	}
	return e.drainOne(ctx, botID, sessionID, depth)
}

// enqueuePending pushes the entire arrived batch as a single JSON-
// encoded pending-queue entry. The entry holds the full InboundMessage
// values, not message IDs, and drainOne replays them as stored without
// reloading any rows from the repository.
func (e *Engine) enqueuePending(ctx context.Context, sessionID string, msgs []InboundMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("agentcore: marshal pending messages: %w", err)
	}
	if err := e.kv.RPush(ctx, pendingKey(sessionID), string(data)); err != nil {
		return err
	}
	// The queue outlives the lock by a grace margin so a slow turn's
	// drain still finds it, but an abandoned queue does not linger.
	return e.kv.Expire(ctx, pendingKey(sessionID), e.lockTTL+30*time.Second)
}

// drainOne attempts exactly one LPOP from the pending queue and, if
// something was queued while the lock was held, reprocesses it — which
// itself ends with another single-attempt drain, bounded by
// maxPendingRetries so a sustained burst cannot recurse unbounded.
func (e *Engine) drainOne(ctx context.Context, botID, sessionID string, depth int) error {
	data, ok, err := e.kv.LPop(ctx, pendingKey(sessionID))
	if err != nil {
		e.log.Error("agentcore: drain lpop failed", "session_id", sessionID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var next []InboundMessage
	if err := json.Unmarshal([]byte(data), &next); err != nil {
		e.log.Error("agentcore: drain unmarshal failed", "session_id", sessionID, "error", err)
		return nil
	}
	return e.run(ctx, botID, sessionID, next, depth+1)
}

func (e *Engine) bestEffortApology(ctx context.Context, sessionID string) {
	const apology = "Lo siento, algo salió mal al procesar tu mensaje. Por favor intenta de nuevo."
	if err := e.sender.SendText(ctx, sessionID, apology); err != nil {
		e.log.Error("agentcore: apology send failed", "session_id", sessionID, "error", err)
	}
}

// processTurn runs one full AI turn: preprocess media, concatenate the
// batch into one user turn, run the bounded tool loop, and send the
// final reply unless a tool already sent one (spec.md §4.6).
func (e *Engine) processTurn(ctx context.Context, bot *store.Bot, sessionID string, msgs []InboundMessage) error {
	if rm, ok := e.sender.(ReadMarker); ok {
		for _, msg := range msgs {
			if msg.ExternalID != "" {
				_ = rm.MarkRead(ctx, sessionID, msg.ExternalID)
			}
		}
	}
	if pn, ok := e.sender.(PresenceNotifier); ok {
		_ = pn.SetComposing(ctx, sessionID)
		defer func() { _ = pn.ClearComposing(ctx, sessionID) }()
	}

	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		content := e.preprocessContent(ctx, sessionID, msg)
		if msg.ExternalID != "" {
			content = fmt.Sprintf("[msg:%s] %s", msg.ExternalID, content)
		}
		parts = append(parts, content)
	}
	userText := strings.Join(parts, "\n")

	if err := e.conv.Append(ctx, sessionID, providers.Message{Role: providers.RoleUser, Content: userText}); err != nil {
		e.log.Warn("agentcore: append user turn failed", "session_id", sessionID, "error", err)
	}

	ctx = tools.WithBotID(ctx, bot.ID)
	ctx = tools.WithSessionID(ctx, sessionID)
	e.executor.ResetTurn()

	finalContent, err := e.runToolLoop(ctx, bot, sessionID)
	if err != nil {
		return err
	}

	// spec.md §4.6.h: an assistant turn with the final content is
	// always recorded, even when the send itself is suppressed because
	// reply_to_message already delivered the reply this turn.
	if finalContent != "" {
		if err := e.conv.Append(ctx, sessionID, providers.Message{Role: providers.RoleAssistant, Content: finalContent}); err != nil {
			e.log.Warn("agentcore: append final assistant turn failed", "session_id", sessionID, "error", err)
		}
	}

	if e.executor.RepliedThisTurn() {
		return nil // reply_to_message already sent the reply directly
	}
	if finalContent == "" {
		return nil
	}
	if err := e.sender.SendText(ctx, sessionID, finalContent); err != nil {
		return fmt.Errorf("agentcore: send final reply: %w", err)
	}
	e.bus.Publish(eventbus.Event{Subject: eventbus.SubjectMessageSent, BotID: bot.ID, Payload: finalContent})
	return nil
}

// preprocessContent turns a media message into model-readable text.
// A preprocessing failure is logged and replaced with a neutral
// placeholder; it never aborts the turn. A local (non-URL) media
// pointer is removed once its content has been extracted.
func (e *Engine) preprocessContent(ctx context.Context, sessionID string, msg InboundMessage) string {
	switch msg.Type {
	case store.MessageAudio:
		text, err := e.media.TranscribeAudio(ctx, msg.MediaURL)
		if err != nil {
			e.log.Warn("agentcore: audio transcription failed", "session_id", sessionID, "error", err)
			return "[Audio]"
		}
		e.cleanupLocalMedia(msg.MediaURL)
		return "[Audio transcription]: " + text

	case store.MessageImage:
		desc, err := e.media.DescribeImage(ctx, msg.MediaURL)
		if err != nil {
			e.log.Warn("agentcore: image description failed", "session_id", sessionID, "error", err)
			return strings.TrimSpace(msg.Content + "\n[Image]")
		}
		e.cleanupLocalMedia(msg.MediaURL)
		return strings.TrimSpace(msg.Content + "\n[Image description]: " + desc)

	case store.MessageDocument:
		if !strings.HasSuffix(strings.ToLower(msg.MediaURL), ".pdf") {
			return msg.Content
		}
		text, err := e.media.ExtractPDFText(ctx, msg.MediaURL)
		if err != nil {
			e.log.Warn("agentcore: pdf extraction failed", "session_id", sessionID, "error", err)
			return "[Document]"
		}
		e.cleanupLocalMedia(msg.MediaURL)
		return "[PDF content]: " + truncate(text, pdfExtractLimit)

	default:
		return msg.Content
	}
}

// cleanupLocalMedia removes a local media file once its content has
// been extracted. Remote URLs stay untouched; a missing file is fine.
func (e *Engine) cleanupLocalMedia(pointer string) {
	if pointer == "" || strings.HasPrefix(pointer, "http://") || strings.HasPrefix(pointer, "https://") {
		return
	}
	if err := os.Remove(pointer); err != nil && !os.IsNotExist(err) {
		e.log.Warn("agentcore: media cleanup failed", "path", pointer, "error", err)
	}
}

// runToolLoop drives the multi-turn tool-call exchange: each iteration
// sends the current history to the (possibly failed-over) provider,
// executes any requested tool calls, appends their results, and
// repeats until the model returns plain content or maxIterations is
// reached (spec.md §4.6.1). Once a turn fails over, it stays pinned to
// the fallback provider for its remaining iterations.
func (e *Engine) runToolLoop(ctx context.Context, bot *store.Bot, sessionID string) (string, error) {
	toolDefs, err := e.registry.Catalog(ctx, bot.ID)
	if err != nil {
		return "", fmt.Errorf("agentcore: tool catalog: %w", err)
	}

	pinned := false

	for i := 0; i < e.maxIterations; i++ {
		history, err := e.conv.History(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("agentcore: load history: %w", err)
		}

		messages := history
		if bot.SystemPrompt != "" {
			messages = append([]providers.Message{{Role: providers.RoleSystem, Content: bot.SystemPrompt}}, history...)
		}

		resp, err := e.client.Chat(ctx, providers.ChatRequest{
			Model:       bot.Model,
			Messages:    messages,
			Tools:       toolDefs,
			Temperature: bot.Temperature,
		}, pinned)
		if err != nil {
			return "", fmt.Errorf("agentcore: chat call failed: %w", err)
		}
		if resp.Fallback {
			pinned = true
		}

		e.conv.TagAssistantTurns(ctx, sessionID, bot.Model, usagePromptTokens(resp), usageCompletionTokens(resp), 1)

		if len(resp.ToolCalls) == 0 {
			// The caller (processTurn) appends this as the final
			// assistant turn once it knows whether the send itself
			// must be suppressed; appending it here too would
			// duplicate the turn.
			return resp.Content, nil
		}

		assistantMsg := providers.Message{Role: providers.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		if err := e.conv.Append(ctx, sessionID, assistantMsg); err != nil {
			e.log.Warn("agentcore: append assistant turn failed", "session_id", sessionID, "error", err)
		}

		allDuplicates := true
		for _, call := range resp.ToolCalls {
			result := e.dispatchToolCall(ctx, bot.ID, call)
			if !result.IsDuplicate {
				allDuplicates = false
			}
			toolMsg := providers.Message{Role: providers.RoleTool, ToolCallID: call.ID, ToolName: call.Name, Content: result.ForLLM}
			if err := e.conv.Append(ctx, sessionID, toolMsg); err != nil {
				e.log.Warn("agentcore: append tool turn failed", "session_id", sessionID, "error", err)
			}
		}

		// spec.md §4.6.f: if every call this iteration was a dedup
		// short-circuit, the results are already recorded to steer the
		// model away from repeating itself; there is nothing new to
		// send the provider, so stop without another round trip.
		if allDuplicates {
			return "", nil
		}
	}

	return "", fmt.Errorf("agentcore: exceeded %d tool-loop iterations", e.maxIterations)
}

// dispatchToolCall resolves call.Name to a Tool row and executes it.
// Built-ins take the fast path spec.md §4.4 requires: no DB lookup at
// all, since the built-in set is always present regardless of DB rows.
func (e *Engine) dispatchToolCall(ctx context.Context, botID string, call providers.ToolCall) *tools.Result {
	if bi := builtinTool(call.Name); bi != nil {
		return e.executor.Execute(ctx, bi, call.Arguments)
	}
	t, err := e.repo.GetTool(ctx, botID, call.Name)
	if err != nil {
		return tools.ErrorResult("tool not found or disabled")
	}
	return e.executor.Execute(ctx, t, call.Arguments)
}

// builtinTool synthesizes a minimal Tool row for a built-in name so the
// executor's dispatch switch (keyed by ActionType+Name) can run without
// requiring a DB row for built-ins.
func builtinTool(name string) *store.Tool {
	for _, n := range tools.BuiltinNames {
		if n == name {
			return &store.Tool{Name: name, ActionType: store.ActionBuiltin}
		}
	}
	return nil
}

func usagePromptTokens(r *providers.ChatResponse) int {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.PromptTokens
}

func usageCompletionTokens(r *providers.ChatResponse) int {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.CompletionTokens
}
