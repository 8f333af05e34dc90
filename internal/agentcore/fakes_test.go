package agentcore

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
	"github.com/nextlevelbuilder/waorchestrator/internal/tools"
)

type fakeRepo struct {
	mu    sync.Mutex
	bot   store.Bot
	tools map[string]store.Tool
	log   map[string][]store.ConversationLogEntry
}

func newFakeRepo(bot store.Bot) *fakeRepo {
	return &fakeRepo{bot: bot, tools: make(map[string]store.Tool), log: make(map[string][]store.ConversationLogEntry)}
}

func (f *fakeRepo) GetBot(context.Context, string) (*store.Bot, error) {
	b := f.bot
	return &b, nil
}
func (f *fakeRepo) ListBots(context.Context) ([]store.Bot, error) { return []store.Bot{f.bot}, nil }
func (f *fakeRepo) GetTool(_ context.Context, _ string, name string) (*store.Tool, error) {
	t, ok := f.tools[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}
func (f *fakeRepo) ListActiveTools(context.Context, string) ([]store.Tool, error) {
	out := make([]store.Tool, 0, len(f.tools))
	for _, t := range f.tools {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRepo) AppendConversationLog(_ context.Context, e *store.ConversationLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log[e.SessionID] = append(f.log[e.SessionID], *e)
	return nil
}
func (f *fakeRepo) ConversationLogSince(_ context.Context, sessionID string, since time.Time, limit int) ([]store.ConversationLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.log[sessionID], nil
}
func (f *fakeRepo) ClearConversationLog(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.log, sessionID)
	return nil
}
func (f *fakeRepo) TagRecentAssistantTurns(context.Context, string, string, int, int, int) error {
	return nil
}

func (f *fakeRepo) GetOrCreateSession(context.Context, string, string, string, string) (*store.Session, error) {
	return nil, nil
}
func (f *fakeRepo) GetSession(context.Context, string) (*store.Session, error) { return nil, nil }
func (f *fakeRepo) UpsertMessage(context.Context, *store.Message) (*store.Message, bool, error) {
	return nil, false, nil
}
func (f *fakeRepo) GetMessageByExternalID(_ context.Context, _ string, externalID string) (*store.Message, error) {
	return &store.Message{ExternalID: externalID}, nil
}
func (f *fakeRepo) RecentInboundMessages(context.Context, string, int) ([]store.Message, error) {
	return nil, nil
}
func (f *fakeRepo) LastInboundMessage(context.Context, string) (*store.Message, error) { return nil, nil }
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

type fakeFlowSender struct{}

func (fakeFlowSender) SendStep(context.Context, string, store.Step, string) error { return nil }

type fakeDirectory struct{}

func (fakeDirectory) Lookup(context.Context, string, string) (*tools.Client, error) { return nil, nil }
func (fakeDirectory) Register(_ context.Context, _ string, c tools.Client) (*tools.Client, error) {
	return &c, nil
}
func (fakeDirectory) SaveCredentials(context.Context, string, string, map[string]string) error {
	return nil
}
