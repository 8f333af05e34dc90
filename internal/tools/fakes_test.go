package tools

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// fakeRepo implements store.Repository backing only what this
// package's registry/executor tests exercise.
type fakeRepo struct {
	activeTools []store.Tool
	labels      map[string]store.Label // name -> label
	sessionLabels map[string]map[string]bool // sessionID -> labelID set
	sessionsByLabel map[string][]store.Session
	messagesByExternalID map[string]store.Message // externalID -> message, scoped implicitly to the bot that created it
	sessions    map[string]store.Session // sessionID -> session
	upserted    []store.Message
	inboundBySession map[string][]store.Message
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		labels:               make(map[string]store.Label),
		sessionLabels:         make(map[string]map[string]bool),
		sessionsByLabel:       make(map[string][]store.Session),
		messagesByExternalID:  make(map[string]store.Message),
		sessions:              make(map[string]store.Session),
		inboundBySession:      make(map[string][]store.Message),
	}
}

func (f *fakeRepo) ListActiveTools(context.Context, string) ([]store.Tool, error) { return f.activeTools, nil }
func (f *fakeRepo) ListLabels(context.Context, string) ([]store.Label, error) {
	out := make([]store.Label, 0, len(f.labels))
	for _, l := range f.labels {
		out = append(out, l)
	}
	return out, nil
}
func (f *fakeRepo) GetLabelByName(_ context.Context, _ string, name string) (*store.Label, error) {
	l, ok := f.labels[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}
func (f *fakeRepo) AddSessionLabel(_ context.Context, sessionID, labelID string) error {
	if f.sessionLabels[sessionID] == nil {
		f.sessionLabels[sessionID] = make(map[string]bool)
	}
	f.sessionLabels[sessionID][labelID] = true
	return nil
}
func (f *fakeRepo) RemoveSessionLabel(_ context.Context, sessionID, labelID string) error {
	delete(f.sessionLabels[sessionID], labelID)
	return nil
}
func (f *fakeRepo) SessionsByLabel(_ context.Context, _ string, labelName string) ([]store.Session, error) {
	return f.sessionsByLabel[labelName], nil
}

func (f *fakeRepo) GetBot(context.Context, string) (*store.Bot, error) { return nil, nil }
func (f *fakeRepo) ListBots(context.Context) ([]store.Bot, error)      { return nil, nil }
func (f *fakeRepo) GetOrCreateSession(context.Context, string, string, string, string) (*store.Session, error) {
	return nil, nil
}
func (f *fakeRepo) GetSession(_ context.Context, sessionID string) (*store.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}
func (f *fakeRepo) UpsertMessage(_ context.Context, m *store.Message) (*store.Message, bool, error) {
	f.upserted = append(f.upserted, *m)
	if m.ExternalID != "" {
		f.messagesByExternalID[m.ExternalID] = *m
	}
	return m, true, nil
}
func (f *fakeRepo) GetMessageByExternalID(_ context.Context, _ string, externalID string) (*store.Message, error) {
	m, ok := f.messagesByExternalID[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}
func (f *fakeRepo) RecentInboundMessages(_ context.Context, sessionID string, limit int) ([]store.Message, error) {
	msgs := f.inboundBySession[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
func (f *fakeRepo) LastInboundMessage(context.Context, string) (*store.Message, error) { return nil, nil }
func (f *fakeRepo) GetTool(context.Context, string, string) (*store.Tool, error)        { return nil, nil }
func (f *fakeRepo) CreateTool(context.Context, *store.Tool) (*store.Tool, error)        { return nil, nil }
func (f *fakeRepo) GetFlow(context.Context, string) (*store.Flow, error)                { return nil, nil }
func (f *fakeRepo) ListTriggers(context.Context, string) ([]store.Trigger, error)       { return nil, nil }
func (f *fakeRepo) CreateExecution(context.Context, *store.Execution) (*store.Execution, error) {
	return nil, nil
}
func (f *fakeRepo) UpdateExecution(context.Context, *store.Execution) error { return nil }
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
	sent        []string
	quotedSent  []string
	quotedRefs  []string
}

func (s *fakeSender) SendText(_ context.Context, sessionID, content string) error {
	s.sent = append(s.sent, content)
	return nil
}

func (s *fakeSender) SendQuotedReply(_ context.Context, sessionID, content, quotedExternalID string) error {
	s.quotedSent = append(s.quotedSent, content)
	s.quotedRefs = append(s.quotedRefs, quotedExternalID)
	return nil
}

type fakeDirectory struct {
	clients map[string]Client
	nextID  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{clients: make(map[string]Client)}
}

func (d *fakeDirectory) Lookup(_ context.Context, _ string, query string) (*Client, error) {
	for _, c := range d.clients {
		if c.Phone == query || c.Email == query || c.CURP == query {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) Register(_ context.Context, _ string, c Client) (*Client, error) {
	d.nextID++
	c.ID = "client-" + string(rune('0'+d.nextID))
	d.clients[c.ID] = c
	return &c, nil
}

func (d *fakeDirectory) SaveCredentials(_ context.Context, _ string, clientID string, _ map[string]string) error {
	if _, ok := d.clients[clientID]; !ok {
		return store.ErrNotFound
	}
	return nil
}
