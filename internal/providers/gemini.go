package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// cacheTokenThreshold is the estimated-prompt-token threshold above which
// a system-prompt cache entry is created/reused (spec.md §4.5).
const cacheTokenThreshold = 4096

// cacheMinRemainingTTL is the minimum remaining TTL a cache entry must
// have to be reused rather than recreated.
const cacheMinRemainingTTL = 60 * time.Second

// WireClient performs the actual network call for a provider. Concrete
// deployments plug in a real HTTP client per provider; this seam lets
// GeminiProvider/OpenAIProvider logic (history shaping, caching,
// thought-signature handling) be exercised and tested without a live
// backend — spec.md explicitly treats "implementing AI providers" as
// out of scope.
type WireClient interface {
	Send(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// CacheCreator creates or reuses a named system-prompt cache entry on
// the remote side. Returns the cache name to reference on subsequent
// calls. A real deployment's WireClient would normally own this, but
// spec.md calls out the cache registry as a distinct concern the engine
// must reason about (degrade silently on failure), so it is modeled
// explicitly here.
type CacheCreator interface {
	CreateCache(ctx context.Context, model, systemPrompt string, toolDefs []ToolDefinition) (name string, err error)
}

type cacheEntry struct {
	name      string
	expiresAt time.Time
}

// GeminiProvider implements Provider for a "Gemini-style" backend:
// assistant tool calls carry an opaque ThoughtSignature continuation
// token, and the provider maintains a process-local system-prompt
// cache registry. Grounded on the teacher's
// internal/providers/openai_gemini.go collapseToolCallsWithoutSig,
// generalized from "strip tool calls lacking the signature" (a
// backward-compat shim for one migration) into the full per-spec
// replay-downgrade behavior.
type GeminiProvider struct {
	wire  WireClient
	cache CacheCreator

	mu       sync.Mutex
	registry map[string]cacheEntry // hash(model+systemPrompt+toolDefs) -> entry
}

func NewGeminiProvider(wire WireClient, cache CacheCreator) *GeminiProvider {
	return &GeminiProvider{
		wire:     wire,
		cache:    cache,
		registry: make(map[string]cacheEntry),
	}
}

func (p *GeminiProvider) Name() string { return "GEMINI" }

// Chat downgrades unsigned historical tool calls to plain assistant
// text (and rewrites their paired tool turns to synthetic assistant
// text) before calling the wire client, then attempts to resolve a
// system-prompt cache entry when the estimated prompt size warrants it.
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Messages = downgradeUnsignedToolCalls(req.Messages)

	if p.cache != nil {
		// Cache creation failure degrades silently to inline system
		// prompt (spec.md §4.5) — req is left untouched either way.
		_ = p.maybeApplyCache(ctx, &req)
	}

	return p.wire.Send(ctx, req)
}

// downgradeUnsignedToolCalls rewrites assistant turns whose tool_calls
// lack a ThoughtSignature into plain text, and collapses their paired
// tool-role turns into the same synthetic assistant text used on
// history reconstruction ("[Previous tool: <name> → <result>]"). This
// keeps Gemini from rejecting conversations containing tool calls
// captured before signature support, or carried over from a different
// provider, while preserving what those calls actually did.
func downgradeUnsignedToolCalls(msgs []Message) []Message {
	collapse := make(map[string]bool)
	for _, m := range msgs {
		if m.Role != RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ThoughtSignature == "" {
				for _, tc2 := range m.ToolCalls {
					collapse[tc2.ID] = true
				}
				break
			}
		}
	}
	if len(collapse) == 0 {
		return msgs
	}

	out := make([]Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 && collapse[m.ToolCalls[0].ID] {
			names := make(map[string]string, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.Name
			}

			text := m.Content
			for i+1 < len(msgs) && msgs[i+1].Role == RoleTool && collapse[msgs[i+1].ToolCallID] {
				i++
				name := msgs[i].ToolName
				if name == "" {
					name = names[msgs[i].ToolCallID]
				}
				if text != "" {
					text += "\n"
				}
				text += fmt.Sprintf("[Previous tool: %s → %s]", name, msgs[i].Content)
			}
			if text != "" {
				out = append(out, Message{Role: RoleAssistant, Content: text})
			}
			continue
		}

		if m.Role == RoleTool && collapse[m.ToolCallID] {
			continue
		}

		out = append(out, m)
	}
	return out
}

func (p *GeminiProvider) maybeApplyCache(ctx context.Context, req *ChatRequest) error {
	systemPrompt := ""
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			systemPrompt = m.Content
			break
		}
	}
	if systemPrompt == "" {
		return nil
	}

	estimated := estimateTokens(systemPrompt, req.Tools)
	if estimated <= cacheTokenThreshold {
		return nil
	}

	key := cacheKey(req.Model, systemPrompt, req.Tools)

	p.mu.Lock()
	entry, ok := p.registry[key]
	p.mu.Unlock()

	if ok && time.Until(entry.expiresAt) >= cacheMinRemainingTTL {
		return nil // reuse: wire client is expected to resolve by the same key
	}

	name, err := p.cache.CreateCache(ctx, req.Model, systemPrompt, req.Tools)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.registry[key] = cacheEntry{name: name, expiresAt: time.Now().Add(1 * time.Hour)}
	p.mu.Unlock()
	return nil
}

// estimateTokens approximates token count as ceil(chars/4), per spec.md §4.5.
func estimateTokens(systemPrompt string, tools []ToolDefinition) int {
	chars := len(systemPrompt)
	for _, t := range tools {
		chars += len(t.Name) + len(t.Description)
	}
	return (chars + 3) / 4
}

func cacheKey(model, systemPrompt string, tools []ToolDefinition) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(systemPrompt))
	for _, t := range tools {
		h.Write([]byte{0})
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		h.Write([]byte(t.Description))
		params, _ := json.Marshal(t.Parameters)
		h.Write([]byte{0})
		h.Write(params)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ErrCacheUnavailable is returned by CacheCreator implementations that
// intentionally want to force a silent degrade in tests.
var ErrCacheUnavailable = errors.New("providers: cache unavailable")
