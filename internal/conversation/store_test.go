package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/waorchestrator/internal/providers"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// fakeRepo implements store.Repository, backing only the conversation
// log methods Store actually exercises; every other method is unused
// by this package and returns a zero value.
type fakeRepo struct {
	mu      sync.Mutex
	log     map[string][]store.ConversationLogEntry
	appendErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{log: make(map[string][]store.ConversationLogEntry)}
}

func (f *fakeRepo) AppendConversationLog(_ context.Context, entry *store.ConversationLogEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log[entry.SessionID] = append(f.log[entry.SessionID], *entry)
	return nil
}

func (f *fakeRepo) ConversationLogSince(_ context.Context, sessionID string, since time.Time, limit int) ([]store.ConversationLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ConversationLogEntry
	for _, e := range f.log[sessionID] {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeRepo) ClearConversationLog(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.log, sessionID)
	return nil
}

func (f *fakeRepo) TagRecentAssistantTurns(_ context.Context, sessionID, model string, promptTokens, completionTokens, count int) error {
	return nil
}

// Unused Repository methods below.
func (f *fakeRepo) GetBot(context.Context, string) (*store.Bot, error) { return nil, nil }
func (f *fakeRepo) ListBots(context.Context) ([]store.Bot, error)      { return nil, nil }
func (f *fakeRepo) GetOrCreateSession(context.Context, string, string, string, string) (*store.Session, error) {
	return nil, nil
}
func (f *fakeRepo) GetSession(context.Context, string) (*store.Session, error) { return nil, nil }
func (f *fakeRepo) UpsertMessage(context.Context, *store.Message) (*store.Message, bool, error) {
	return nil, false, nil
}
func (f *fakeRepo) GetMessageByExternalID(context.Context, string, string) (*store.Message, error) {
	return nil, nil
}
func (f *fakeRepo) RecentInboundMessages(context.Context, string, int) ([]store.Message, error) {
	return nil, nil
}
func (f *fakeRepo) LastInboundMessage(context.Context, string) (*store.Message, error) { return nil, nil }
func (f *fakeRepo) ListActiveTools(context.Context, string) ([]store.Tool, error)       { return nil, nil }
func (f *fakeRepo) GetTool(context.Context, string, string) (*store.Tool, error)        { return nil, nil }
func (f *fakeRepo) CreateTool(context.Context, *store.Tool) (*store.Tool, error)        { return nil, nil }
func (f *fakeRepo) GetFlow(context.Context, string) (*store.Flow, error)                { return nil, nil }
func (f *fakeRepo) ListTriggers(context.Context, string) ([]store.Trigger, error)       { return nil, nil }
func (f *fakeRepo) CreateExecution(context.Context, *store.Execution) (*store.Execution, error) {
	return nil, nil
}
func (f *fakeRepo) UpdateExecution(context.Context, *store.Execution) error { return nil }
func (f *fakeRepo) GetLabelByName(context.Context, string, string) (*store.Label, error) {
	return nil, nil
}
func (f *fakeRepo) ListLabels(context.Context, string) ([]store.Label, error) { return nil, nil }
func (f *fakeRepo) AddSessionLabel(context.Context, string, string) error     { return nil }
func (f *fakeRepo) RemoveSessionLabel(context.Context, string, string) error  { return nil }
func (f *fakeRepo) SessionsByLabel(context.Context, string, string) ([]store.Session, error) {
	return nil, nil
}
func (f *fakeRepo) SessionsWithoutLabels(context.Context, string) ([]store.Session, error) {
	return nil, nil
}
func (f *fakeRepo) SessionLabelsFor(context.Context, string) ([]store.Label, error) { return nil, nil }
func (f *fakeRepo) ListEnabledAutomations(context.Context) ([]store.Automation, error) {
	return nil, nil
}

func TestStore_AppendAndHistoryRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, nil)

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "sess-1", providers.Message{Role: providers.RoleUser, Content: "hi"}))
	require.NoError(t, s.Append(ctx, "sess-1", providers.Message{Role: providers.RoleAssistant, Content: "hello"}))

	hist, err := s.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "hi", hist[0].Content)
	assert.Equal(t, "hello", hist[1].Content)
}

func TestStore_TrimsToMaxMessages(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, nil, WithMaxMessages(2))

	ctx := context.Background()
	s.Append(ctx, "sess-1", providers.Message{Role: providers.RoleUser, Content: "one"})
	s.Append(ctx, "sess-1", providers.Message{Role: providers.RoleUser, Content: "two"})
	s.Append(ctx, "sess-1", providers.Message{Role: providers.RoleUser, Content: "three"})

	hist, err := s.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "two", hist[0].Content)
	assert.Equal(t, "three", hist[1].Content)
}

func TestStore_CacheMissReconstructsFromDurableLogAndCollapsesToolTurns(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	repo.log["sess-1"] = []store.ConversationLogEntry{
		{SessionID: "sess-1", Role: "user", Content: "what time is it", CreatedAt: now},
		{
			SessionID: "sess-1", Role: "assistant", CreatedAt: now,
			ToolCalls: []store.ToolCallRecord{{ID: "tc1", Name: "get_current_time"}},
		},
		{SessionID: "sess-1", Role: "tool", ToolCallID: "tc1", ToolName: "get_current_time", Content: "2026-07-29T00:00:00Z", CreatedAt: now},
		{SessionID: "sess-1", Role: "assistant", Content: "it's 2026-07-29", CreatedAt: now},
	}

	s := New(repo, nil)
	hist, err := s.History(context.Background(), "sess-1")
	require.NoError(t, err)

	require.Len(t, hist, 3, "tool-call/tool-result pair must collapse into one synthetic assistant turn")
	assert.Equal(t, providers.RoleUser, hist[0].Role)
	assert.Equal(t, providers.RoleAssistant, hist[1].Role)
	assert.Contains(t, hist[1].Content, "[Previous tool: get_current_time")
	assert.Empty(t, hist[1].ToolCalls, "reconstructed history must carry no live tool calls")
	assert.Equal(t, "it's 2026-07-29", hist[2].Content)
}

func TestStore_ReconstructionKeepsAssistantTextSeparateFromToolResult(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	repo.log["sess-1"] = []store.ConversationLogEntry{
		{SessionID: "sess-1", Role: "user", Content: "a", CreatedAt: now},
		{
			SessionID: "sess-1", Role: "assistant", Content: "b", CreatedAt: now,
			ToolCalls: []store.ToolCallRecord{{ID: "tc1", Name: "t"}},
		},
		{SessionID: "sess-1", Role: "tool", ToolCallID: "tc1", ToolName: "t", Content: "r", CreatedAt: now},
		{SessionID: "sess-1", Role: "user", Content: "c", CreatedAt: now},
	}

	s := New(repo, nil)
	hist, err := s.History(context.Background(), "sess-1")
	require.NoError(t, err)

	require.Len(t, hist, 4, "assistant text and the collapsed tool result must stay separate entries")
	assert.Equal(t, providers.RoleUser, hist[0].Role)
	assert.Equal(t, "a", hist[0].Content)
	assert.Equal(t, providers.RoleAssistant, hist[1].Role)
	assert.Equal(t, "b", hist[1].Content)
	assert.Equal(t, providers.RoleAssistant, hist[2].Role)
	assert.Equal(t, "[Previous tool: t → r]", hist[2].Content)
	assert.Equal(t, providers.RoleUser, hist[3].Role)
	assert.Equal(t, "c", hist[3].Content)

	// The same four entries must now be served from the rehydrated cache.
	again, err := s.History(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, hist, again)
}

func TestStore_DurableWriteFailureDoesNotFailAppend(t *testing.T) {
	repo := newFakeRepo()
	repo.appendErr = assert.AnError
	s := New(repo, nil)

	err := s.Append(context.Background(), "sess-1", providers.Message{Role: providers.RoleUser, Content: "hi"})
	assert.NoError(t, err, "a durable-log failure must not fail the in-flight turn")

	hist, err := s.History(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, hist, 1, "the fast cache must still reflect the append")
}

func TestStore_Clear(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, nil)
	ctx := context.Background()

	s.Append(ctx, "sess-1", providers.Message{Role: providers.RoleUser, Content: "hi"})
	require.True(t, s.Has("sess-1"))

	require.NoError(t, s.Clear(ctx, "sess-1"))
	assert.False(t, s.Has("sess-1"))

	hist, err := s.History(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}
