package egress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/waorchestrator/internal/kv"
	"github.com/nextlevelbuilder/waorchestrator/internal/transport"
)

// fakeStream is an in-memory Stream that hands out each added entry
// exactly once and records ACKs.
type fakeStream struct {
	mu      sync.Mutex
	entries []kv.StreamMessage
	acked   []string
	next    int
	groups  map[string]string
}

func newFakeStream() *fakeStream {
	return &fakeStream{groups: make(map[string]string)}
}

func (s *fakeStream) EnsureGroup(_ context.Context, stream, group, start string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[stream+"/"+group] = start
	return nil
}

func (s *fakeStream) Add(_ context.Context, _ string, payload string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, kv.StreamMessage{ID: payload, Payload: payload})
	return nil
}

func (s *fakeStream) ReadGroup(_ context.Context, _, _, _ string, _ time.Duration) ([]kv.StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.entries) {
		return nil, nil
	}
	out := s.entries[s.next:]
	s.next = len(s.entries)
	return out, nil
}

func (s *fakeStream) Ack(_ context.Context, _, _, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return nil
}

type sentMessage struct {
	botID, identifier string
	payload           transport.Payload
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (t *fakeTransport) StartSession(context.Context, string) error { return nil }
func (t *fakeTransport) StopSession(context.Context, string) error  { return nil }
func (t *fakeTransport) SendMessage(_ context.Context, botID, identifier string, payload transport.Payload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMessage{botID: botID, identifier: identifier, payload: payload})
	return nil
}
func (t *fakeTransport) MarkRead(context.Context, string, string, string) error        { return nil }
func (t *fakeTransport) SendPresence(context.Context, string, string, transport.Presence) error {
	return nil
}
func (t *fakeTransport) AddChatLabel(context.Context, string, string, string) error    { return nil }
func (t *fakeTransport) RemoveChatLabel(context.Context, string, string, string) error { return nil }
func (t *fakeTransport) SyncLabels(context.Context, string) error                      { return nil }
func (t *fakeTransport) ShutdownAll(context.Context) error                             { return nil }

type fixedResolver struct{ t transport.Transport }

func (r fixedResolver) Get(string) (transport.Transport, bool) { return r.t, r.t != nil }

func TestConsumer_DispatchesTextEnvelope(t *testing.T) {
	ft := &fakeTransport{}
	c := NewConsumer(newFakeStream(), fixedResolver{t: ft}, "test-1", nil)

	err := c.dispatch(context.Background(), `{"bot_id":"bot-1","target":"5215550000000","payload":{"text":"hola"}}`)
	require.NoError(t, err)

	require.Len(t, ft.sent, 1)
	assert.Equal(t, "bot-1", ft.sent[0].botID)
	assert.Equal(t, "5215550000000", ft.sent[0].identifier)
	assert.Equal(t, "hola", ft.sent[0].payload.Text)
}

func TestConsumer_DispatchesMediaEnvelopes(t *testing.T) {
	ft := &fakeTransport{}
	c := NewConsumer(newFakeStream(), fixedResolver{t: ft}, "test-1", nil)

	require.NoError(t, c.dispatch(context.Background(),
		`{"bot_id":"bot-1","target":"x","execution_id":"exec-1","step_order":2,"payload":{"image":{"url":"https://cdn/img.png"},"caption":"mira"}}`))
	require.NoError(t, c.dispatch(context.Background(),
		`{"bot_id":"bot-1","target":"x","payload":{"audio":{"url":"https://cdn/a.ogg","ptt":true}}}`))

	require.Len(t, ft.sent, 2)
	require.NotNil(t, ft.sent[0].payload.Image)
	assert.Equal(t, "https://cdn/img.png", ft.sent[0].payload.Image.URL)
	assert.Equal(t, "mira", ft.sent[0].payload.Image.Caption)
	require.NotNil(t, ft.sent[1].payload.Audio)
	assert.True(t, ft.sent[1].payload.Audio.PTT)
}

func TestConsumer_RejectsMalformedEnvelope(t *testing.T) {
	ft := &fakeTransport{}
	c := NewConsumer(newFakeStream(), fixedResolver{t: ft}, "test-1", nil)

	assert.Error(t, c.dispatch(context.Background(), "not json"))
	assert.Error(t, c.dispatch(context.Background(), `{"payload":{"text":"no addressing"}}`))
	assert.Empty(t, ft.sent)
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	stream := newFakeStream()
	ft := &fakeTransport{}
	c := NewConsumer(stream, fixedResolver{t: ft}, "test-1", nil)
	p := NewProducer(stream, 10_000)

	err := p.Stage(context.Background(), "bot-1", "5215550000000", "exec-9", 1,
		transport.Payload{Image: &transport.ImagePayload{URL: "https://cdn/img.png", Caption: "mira"}})
	require.NoError(t, err)

	msgs, err := stream.ReadGroup(context.Background(), outgoingStream, consumerGroup, "test-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, c.dispatch(context.Background(), msgs[0].Payload))

	require.Len(t, ft.sent, 1)
	require.NotNil(t, ft.sent[0].payload.Image)
	assert.Equal(t, "mira", ft.sent[0].payload.Image.Caption)
}
