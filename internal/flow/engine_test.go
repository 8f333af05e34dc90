package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

type fakeRepo struct {
	mu         sync.Mutex
	triggers   map[string][]store.Trigger
	flows      map[string]*store.Flow
	executions map[string]*store.Execution
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		triggers:   make(map[string][]store.Trigger),
		flows:      make(map[string]*store.Flow),
		executions: make(map[string]*store.Execution),
	}
}

func (f *fakeRepo) ListTriggers(_ context.Context, botID string) ([]store.Trigger, error) {
	return f.triggers[botID], nil
}
func (f *fakeRepo) GetFlow(_ context.Context, flowID string) (*store.Flow, error) {
	fl, ok := f.flows[flowID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return fl, nil
}
func (f *fakeRepo) CreateExecution(_ context.Context, e *store.Execution) (*store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[e.ID] = e
	return e, nil
}
func (f *fakeRepo) UpdateExecution(_ context.Context, e *store.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[e.ID] = e
	return nil
}

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
func (f *fakeRepo) AppendConversationLog(context.Context, *store.ConversationLogEntry) error {
	return nil
}
func (f *fakeRepo) ConversationLogSince(context.Context, string, time.Time, int) ([]store.ConversationLogEntry, error) {
	return nil, nil
}
func (f *fakeRepo) ClearConversationLog(context.Context, string) error { return nil }
func (f *fakeRepo) TagRecentAssistantTurns(context.Context, string, string, int, int, int) error {
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	failAt int // 1-indexed step order to fail on, 0 = never fail
	calls int
}

func (s *fakeSender) SendStep(_ context.Context, sessionID string, step store.Step, rendered string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt != 0 && s.calls == s.failAt {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, rendered)
	return nil
}

func TestEngine_MatchesContainsCaseInsensitive(t *testing.T) {
	e := New(newFakeRepo(), &fakeSender{}, nil)
	tr := store.Trigger{MatchType: store.MatchContains, Keyword: "HELLO"}
	assert.True(t, e.Matches(tr, "well hello there"))
	assert.False(t, e.Matches(tr, "goodbye"))
}

func TestEngine_MatchesRegex(t *testing.T) {
	e := New(newFakeRepo(), &fakeSender{}, nil)
	tr := store.Trigger{MatchType: store.MatchRegex, Keyword: `^\d{3}-\d{4}$`}
	assert.True(t, e.Matches(tr, "555-1234"))
	assert.False(t, e.Matches(tr, "not a number"))
}

func TestEngine_MatchScope(t *testing.T) {
	assert.True(t, MatchScope(store.ScopeBoth, true))
	assert.True(t, MatchScope(store.ScopeBoth, false))
	assert.True(t, MatchScope(store.ScopeIncoming, false))
	assert.False(t, MatchScope(store.ScopeIncoming, true))
	assert.True(t, MatchScope(store.ScopeOutgoing, true))
	assert.False(t, MatchScope(store.ScopeOutgoing, false))
}

func TestEngine_EvaluateIncomingStartsMatchedFlow(t *testing.T) {
	repo := newFakeRepo()
	repo.triggers["bot-1"] = []store.Trigger{
		{ID: "t1", BotID: "bot-1", FlowID: "flow-1", Keyword: "pricing", MatchType: store.MatchContains, Scope: store.ScopeIncoming},
	}
	repo.flows["flow-1"] = &store.Flow{
		ID: "flow-1", BotID: "bot-1",
		Steps: []store.Step{
			{ID: "s1", Order: 0, Type: store.StepText, Content: "our pricing is..."},
		},
	}
	sender := &fakeSender{}
	e := New(repo, sender, nil)

	err := e.EvaluateIncoming(context.Background(), "bot-1", "sess-1", "what is your pricing?")
	require.NoError(t, err)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "our pricing is...", sender.sent[0])

	repo.mu.Lock()
	defer repo.mu.Unlock()
	found := false
	for _, exec := range repo.executions {
		if exec.Status == store.ExecutionCompleted {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngine_StepSendErrorDoesNotAbortFlow(t *testing.T) {
	// spec.md §4.4 FLOW: "Per-step transport errors are logged but do
	// not abort the flow" — a failing send still lets later steps run
	// and the Execution still completes.
	repo := newFakeRepo()
	repo.flows["flow-1"] = &store.Flow{
		ID: "flow-1",
		Steps: []store.Step{
			{ID: "s1", Order: 0, Type: store.StepText, Content: "one"},
			{ID: "s2", Order: 1, Type: store.StepText, Content: "two"},
		},
	}
	sender := &fakeSender{failAt: 1}
	e := New(repo, sender, nil)

	err := e.Start(context.Background(), "flow-1", "sess-1", nil)
	require.NoError(t, err)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, []string{"two"}, sender.sent, "the failed first step is skipped, the second step still sends")

	repo.mu.Lock()
	defer repo.mu.Unlock()
	var exec *store.Execution
	for _, ex := range repo.executions {
		exec = ex
	}
	require.NotNil(t, exec)
	assert.Equal(t, store.ExecutionCompleted, exec.Status)
}

func TestEngine_PlaceholderSubstitution(t *testing.T) {
	repo := newFakeRepo()
	repo.flows["flow-1"] = &store.Flow{
		ID: "flow-1",
		Steps: []store.Step{
			{ID: "s1", Order: 0, Type: store.StepText, Content: "hello {{name}}, your order {{order_id}} shipped"},
		},
	}
	sender := &fakeSender{}
	e := New(repo, sender, nil)

	err := e.Start(context.Background(), "flow-1", "sess-1", map[string]interface{}{"name": "Ana", "order_id": 42})
	require.NoError(t, err)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "hello Ana, your order 42 shipped", sender.sent[0])
}
