// Package ingress implements the inbound half of spec.md §6's stream
// contract: a blocking consumer-group reader over
// "agentic:queue:incoming" that decodes the NEW_MESSAGE envelope,
// upserts the session/message rows, evaluates INCOMING/BOTH-scoped
// flow triggers, and hands the message to the AIEngine.
//
// Grounded on the teacher's internal/channels/manager.go outbound
// dispatch loop shape (a goroutine blocking on a channel/stream and
// dispatching each entry), turned around to face an inbound stream
// instead of an outbound one; ACK-always semantics for poison pills
// are lifted directly from spec.md §6 ("ACK on every delivery
// including poison pills").
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/nextlevelbuilder/waorchestrator/internal/accumulator"
	"github.com/nextlevelbuilder/waorchestrator/internal/agentcore"
	"github.com/nextlevelbuilder/waorchestrator/internal/eventbus"
	"github.com/nextlevelbuilder/waorchestrator/internal/flow"
	"github.com/nextlevelbuilder/waorchestrator/internal/kv"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

const (
	incomingStream = "agentic:queue:incoming"
	consumerGroup  = "ai_core_group"
	blockTimeout   = 5 * time.Second
)

// newMessageEnvelope is the wire shape spec.md §6 defines for
// "agentic:queue:incoming" entries. SessionID is the upstream
// transport's own message identifier (not this store's Session.ID —
// our Session row is derived from (bot_id, identifier) and keeps its
// own primary key), used here as the dedup ExternalID on the messages
// table.
type newMessageEnvelope struct {
	Type       string `json:"type"`
	BotID      string `json:"bot_id"`
	SessionID  string `json:"session_id"`
	Identifier string `json:"identifier"`
	Platform   string `json:"platform"`
	FromMe     bool   `json:"from_me"`
	Sender     string `json:"sender"`
	Message    struct {
		Text      string `json:"text"`
		MediaURL  string `json:"mediaUrl"`
		Timestamp int64  `json:"timestamp"`
	} `json:"message"`
}

// Consumer drives the inbound ingestion loop. Each accepted arrival is
// handed to the Accumulator under bot.MessageDelayMs (spec.md §4.1); a
// delay of 0 bypasses batching entirely, per the Accumulator's own
// contract.
type Consumer struct {
	stream   kv.Stream
	repo     store.Repository
	flowEng  *flow.Engine
	engine   *agentcore.Engine
	acc      *accumulator.Accumulator
	bus      *eventbus.Bus
	consumer string
	log      *slog.Logger
}

func NewConsumer(stream kv.Stream, repo store.Repository, flowEng *flow.Engine, engine *agentcore.Engine, bus *eventbus.Bus, consumerName string, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{stream: stream, repo: repo, flowEng: flowEng, engine: engine, acc: accumulator.New(), bus: bus, consumer: consumerName, log: log}
}

// Run blocks, ensuring the consumer group exists and then reading until
// ctx is canceled. A poison-pill entry (unparseable payload, or one
// whose processing fails) is still ACKed — spec.md §6 treats consumer
// liveness as more important than single-message durability here, since
// the durable record of truth is the Postgres messages table, not the
// stream itself.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.EnsureGroup(ctx, incomingStream, consumerGroup, "$"); err != nil {
		return fmt.Errorf("ingress: ensure consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := c.stream.ReadGroup(ctx, incomingStream, consumerGroup, c.consumer, blockTimeout)
		if err != nil {
			c.log.Error("ingress: read group failed", "error", err)
			continue
		}

		for _, m := range msgs {
			if err := c.handle(ctx, m.Payload); err != nil {
				c.log.Error("ingress: handle message failed", "error", err)
			}
			if err := c.stream.Ack(ctx, incomingStream, consumerGroup, m.ID); err != nil {
				c.log.Error("ingress: ack failed", "id", m.ID, "error", err)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload string) error {
	var env newMessageEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("ingress: decode envelope: %w", err)
	}
	if env.Type != "NEW_MESSAGE" {
		return nil
	}
	if env.BotID == "" || env.Identifier == "" {
		return fmt.Errorf("ingress: envelope missing bot_id/identifier")
	}

	sess, err := c.repo.GetOrCreateSession(ctx, env.BotID, env.Identifier, env.Sender, env.Platform)
	if err != nil {
		return fmt.Errorf("ingress: get or create session: %w", err)
	}

	stored, created, err := c.repo.UpsertMessage(ctx, &store.Message{
		SessionID:  sess.ID,
		ExternalID: env.SessionID,
		Sender:     env.Sender,
		FromMe:     env.FromMe,
		Type:       inferMessageType(env.Message.MediaURL),
		Content:    env.Message.Text,
		MediaURL:   env.Message.MediaURL,
	})
	if err != nil {
		return fmt.Errorf("ingress: upsert message: %w", err)
	}
	if !created {
		return nil // already processed (stream redelivery after a crash)
	}

	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Subject: eventbus.SubjectMessageReceived, BotID: env.BotID, Payload: stored})
	}

	if c.flowEng != nil {
		if err := c.flowEng.EvaluateIncoming(ctx, env.BotID, sess.ID, stored.Content); err != nil {
			c.log.Error("ingress: evaluate incoming triggers failed", "session_id", sess.ID, "error", err)
		}
	}

	if env.FromMe {
		return nil // the bot's own echo never starts an AI turn
	}

	bot, err := c.repo.GetBot(ctx, env.BotID)
	if err != nil {
		return fmt.Errorf("ingress: get bot: %w", err)
	}

	item := accItem{botID: env.BotID, msg: agentcore.InboundMessage{
		ExternalID: stored.ExternalID,
		Content:    stored.Content,
		Type:       stored.Type,
		MediaURL:   stored.MediaURL,
	}}
	delay := time.Duration(bot.MessageDelayMs) * time.Millisecond
	c.acc.Accumulate(sess.ID, item, delay, func(sessionID string, batch []interface{}) {
		c.flush(context.Background(), sessionID, batch)
	})
	return nil
}

// inferMessageType classifies an arrival by its mediaUrl extension —
// the NEW_MESSAGE envelope carries no media type of its own (spec.md
// §6), and the engine's preprocessing dispatches on the message type
// (transcription for AUDIO, vision for IMAGE, text extraction for
// DOCUMENT), so a voice note or PDF must not be stored as an image.
// Unknown extensions with a media pointer default to IMAGE, the most
// common attachment kind.
func inferMessageType(mediaURL string) store.MessageType {
	if mediaURL == "" {
		return store.MessageText
	}
	trimmed := mediaURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch strings.ToLower(path.Ext(trimmed)) {
	case ".ogg", ".opus", ".mp3", ".m4a", ".aac", ".amr", ".wav":
		return store.MessageAudio
	case ".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt":
		return store.MessageDocument
	default:
		return store.MessageImage
	}
}

// accItem is what the Accumulator buffers: one inbound message plus
// the bot it belongs to, since a single session never changes bots.
type accItem struct {
	botID string
	msg   agentcore.InboundMessage
}

func (c *Consumer) flush(ctx context.Context, sessionID string, batch []interface{}) {
	if len(batch) == 0 {
		return
	}
	botID := batch[0].(accItem).botID
	msgs := make([]agentcore.InboundMessage, len(batch))
	for i, m := range batch {
		msgs[i] = m.(accItem).msg
	}
	if err := c.engine.ProcessMessages(ctx, botID, sessionID, msgs); err != nil {
		c.log.Error("ingress: process messages failed", "session_id", sessionID, "error", err)
	}
}

// FlushPending drains every accumulator buffer immediately, for orderly
// shutdown (spec.md §4.1 flushAll).
func (c *Consumer) FlushPending() {
	c.acc.FlushAll(func(sessionID string, batch []interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.flush(ctx, sessionID, batch)
	})
}
