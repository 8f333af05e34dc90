// Package conversation implements the two-tier ConversationStore
// spec.md §4.2 describes: a fast, TTL-based, rolling-capped in-process
// cache fronting a durable per-turn log, with cache-miss reconstruction
// from the log and tool-turn collapsing to synthetic assistant text.
//
// Grounded on the teacher's session history handling (internal/agent
// loop_history.go, no longer present in this tree — see DESIGN.md) and
// the teacher's general pattern of a fast local cache guarding a slower
// durable store; rebuilt here against store.Repository and
// providers.Message instead of the teacher's single-provider session
// transcript type.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/waorchestrator/internal/providers"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

const (
	defaultCacheTTL    = 7 * 24 * time.Hour
	defaultMaxMessages = 100
	defaultHistoryDays = 7
)

type cacheEntry struct {
	messages  []providers.Message
	expiresAt time.Time
}

// Store is the two-tier ConversationStore.
type Store struct {
	repo store.Repository
	log  *slog.Logger

	cacheTTL      time.Duration
	maxMessages   int
	pgHistoryDays int

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// Option configures non-default tuning. Zero values from config.Load
// mean "use the package default".
type Option func(*Store)

func WithCacheTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

func WithMaxMessages(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

func WithHistoryDays(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pgHistoryDays = n
		}
	}
}

func New(repo store.Repository, log *slog.Logger, opts ...Option) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		repo:          repo,
		log:           log,
		cacheTTL:      defaultCacheTTL,
		maxMessages:   defaultMaxMessages,
		pgHistoryDays: defaultHistoryDays,
		cache:         make(map[string]*cacheEntry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Has reports whether the fast cache currently holds an unexpired
// entry for sessionID (no reconstruction is attempted).
func (s *Store) Has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[sessionID]
	return ok && time.Now().Before(e.expiresAt)
}

// Append adds one turn to the fast cache (resetting its TTL and
// trimming to maxMessages) and best-effort persists it durably.
// Durable write failures are logged, never returned, per spec.md §7 —
// the in-flight turn must not be aborted by a storage hiccup.
func (s *Store) Append(ctx context.Context, sessionID string, msg providers.Message) error {
	return s.AppendMany(ctx, sessionID, []providers.Message{msg})
}

func (s *Store) AppendMany(ctx context.Context, sessionID string, msgs []providers.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	e, ok := s.cache[sessionID]
	if !ok || time.Now().After(e.expiresAt) {
		e = &cacheEntry{}
	}
	e.messages = append(e.messages, msgs...)
	if s.maxMessages > 0 && len(e.messages) > s.maxMessages {
		e.messages = e.messages[len(e.messages)-s.maxMessages:]
	}
	e.expiresAt = time.Now().Add(s.cacheTTL)
	s.cache[sessionID] = e
	s.mu.Unlock()

	for _, m := range msgs {
		entry := toLogEntry(sessionID, m)
		if err := s.repo.AppendConversationLog(ctx, entry); err != nil {
			s.log.Warn("conversation: durable append failed",
				"session_id", sessionID, "error", err)
		}
	}
	return nil
}

// History returns the conversation for sessionID, oldest first. A
// fresh cache hit is returned directly; otherwise the durable log is
// reconstructed for entries within pgHistoryDays, collapsing tool
// turns into synthetic assistant text so replay to a Provider never
// needs the original tool-call/tool-result pairing to still exist.
func (s *Store) History(ctx context.Context, sessionID string) ([]providers.Message, error) {
	s.mu.Lock()
	e, ok := s.cache[sessionID]
	fresh := ok && time.Now().Before(e.expiresAt)
	var cached []providers.Message
	if fresh {
		cached = append([]providers.Message(nil), e.messages...)
	}
	s.mu.Unlock()

	if fresh {
		return cached, nil
	}

	since := time.Now().AddDate(0, 0, -s.pgHistoryDays)
	entries, err := s.repo.ConversationLogSince(ctx, sessionID, since, s.maxMessages)
	if err != nil {
		return nil, fmt.Errorf("conversation: reconstruct history: %w", err)
	}

	msgs := reconstructFromLog(entries)

	s.mu.Lock()
	s.cache[sessionID] = &cacheEntry{
		messages:  append([]providers.Message(nil), msgs...),
		expiresAt: time.Now().Add(s.cacheTTL),
	}
	s.mu.Unlock()

	return msgs, nil
}

// Clear drops the fast-cache entry and the durable log for sessionID.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()
	return s.repo.ClearConversationLog(ctx, sessionID)
}

// TagAssistantTurns attaches model/usage metadata to the most recent
// assistant turns in the durable log (best-effort, never fails the
// caller's turn).
func (s *Store) TagAssistantTurns(ctx context.Context, sessionID, model string, promptTokens, completionTokens, count int) {
	if err := s.repo.TagRecentAssistantTurns(ctx, sessionID, model, promptTokens, completionTokens, count); err != nil {
		s.log.Warn("conversation: tag assistant turns failed", "session_id", sessionID, "error", err)
	}
}

func toLogEntry(sessionID string, m providers.Message) *store.ConversationLogEntry {
	entry := &store.ConversationLogEntry{
		SessionID:  sessionID,
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
		CreatedAt:  time.Now(),
	}
	for _, tc := range m.ToolCalls {
		entry.ToolCalls = append(entry.ToolCalls, store.ToolCallRecord{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		})
	}
	return entry
}

// reconstructFromLog rebuilds a provider-ready message slice from
// durable log rows, collapsing each tool-result row into its own
// synthetic assistant text turn: "[Previous tool: <name> → <result>]"
// (spec.md §4.2/§8 S6), so replay never depends on the original
// tool_call_id pairing still being meaningful to the provider. An
// assistant row's own content stays a separate entry from the
// synthetic tool-result entries that follow it.
func reconstructFromLog(entries []store.ConversationLogEntry) []providers.Message {
	out := make([]providers.Message, 0, len(entries))
	i := 0
	for i < len(entries) {
		e := entries[i]

		if e.Role == string(providers.RoleAssistant) && len(e.ToolCalls) > 0 {
			if e.Content != "" {
				out = append(out, providers.Message{Role: providers.RoleAssistant, Content: e.Content})
			}
			j := i + 1
			for _, tc := range e.ToolCalls {
				if j < len(entries) && entries[j].Role == string(providers.RoleTool) && entries[j].ToolCallID == tc.ID {
					out = append(out, providers.Message{
						Role:    providers.RoleAssistant,
						Content: fmt.Sprintf("[Previous tool: %s → %s]", entries[j].ToolName, entries[j].Content),
					})
					j++
				}
			}
			i = j
			continue
		}

		if e.Role == string(providers.RoleTool) {
			out = append(out, providers.Message{
				Role:    providers.RoleAssistant,
				Content: fmt.Sprintf("[Previous tool: %s → %s]", e.ToolName, e.Content),
			})
			i++
			continue
		}

		out = append(out, providers.Message{
			Role:    roleFromString(e.Role),
			Content: e.Content,
		})
		i++
	}
	return out
}

func roleFromString(r string) providers.Role {
	switch r {
	case string(providers.RoleSystem):
		return providers.RoleSystem
	case string(providers.RoleAssistant):
		return providers.RoleAssistant
	case string(providers.RoleTool):
		return providers.RoleTool
	default:
		return providers.RoleUser
	}
}
