package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToMatchingSubjectAndBot(t *testing.T) {
	b := New()
	var got []Event
	var mu sync.Mutex

	b.Subscribe("sub1", SubjectMessageReceived, "bot-1", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	b.Publish(Event{Subject: SubjectMessageReceived, BotID: "bot-1", Payload: "hi"})
	b.Publish(Event{Subject: SubjectMessageReceived, BotID: "bot-2", Payload: "other bot"})
	b.Publish(Event{Subject: SubjectMessageSent, BotID: "bot-1", Payload: "wrong subject"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Payload)
}

func TestBus_UnfilteredSubscriptionSeesAllBots(t *testing.T) {
	b := New()
	count := 0
	var mu sync.Mutex

	b.Subscribe("sub1", SubjectSystemLog, "", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	b.Publish(Event{Subject: SubjectSystemLog, BotID: "bot-1"})
	b.Publish(Event{Subject: SubjectSystemLog, BotID: "bot-2"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe("sub1", SubjectBotConnected, "", func(ev Event) { count++ })
	b.Unsubscribe("sub1")
	b.Publish(Event{Subject: SubjectBotConnected})
	assert.Equal(t, 0, count)
}

func TestBus_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := New()
	delivered := false
	b.Subscribe("panicker", SubjectBotQR, "", func(ev Event) { panic("boom") })
	b.Subscribe("ok", SubjectBotQR, "", func(ev Event) { delivered = true })

	assert.NotPanics(t, func() {
		b.Publish(Event{Subject: SubjectBotQR})
	})
	assert.True(t, delivered)
}
