// Package egress implements the outbound half of spec.md §6's stream
// contract: a blocking consumer-group reader over
// "agentic:queue:outgoing" that fans each staged entry out to the
// owning bot's transport. Producer stages sends here for deployments
// that hand the last hop to a separate process; the flow engine and the
// AI engine send through runtime.Router directly instead. The consumer
// is the single place outbound stream traffic turns into wire sends.
//
// Grounded on the same consumer-group loop shape as internal/ingress
// (itself derived from the teacher's channel dispatch loop), pointed at
// the opposite stream. ACK-always semantics match spec.md §6: a poison
// pill is logged and acknowledged, never redelivered forever.
package egress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/waorchestrator/internal/kv"
	"github.com/nextlevelbuilder/waorchestrator/internal/transport"
)

const (
	outgoingStream = "agentic:queue:outgoing"
	consumerGroup  = "node_gateway_group"
	blockTimeout   = 5 * time.Second
)

// envelope is the outbound wire shape spec.md §6 defines: one JSON
// document in the entry's "payload" field.
type envelope struct {
	BotID       string `json:"bot_id"`
	Target      string `json:"target"`
	ExecutionID string `json:"execution_id,omitempty"`
	StepOrder   int    `json:"step_order,omitempty"`
	Payload     struct {
		Text    string `json:"text,omitempty"`
		Caption string `json:"caption,omitempty"`
		Image   *struct {
			URL string `json:"url"`
		} `json:"image,omitempty"`
		Audio *struct {
			URL string `json:"url"`
			PTT bool   `json:"ptt,omitempty"`
		} `json:"audio,omitempty"`
	} `json:"payload"`
}

// TransportResolver yields the live transport for a bot. Implemented by
// *runtime.Registry.
type TransportResolver interface {
	Get(botID string) (transport.Transport, bool)
}

// Consumer drains the outgoing stream and delivers each entry through
// the owning bot's transport.
type Consumer struct {
	stream   kv.Stream
	resolver TransportResolver
	consumer string
	log      *slog.Logger
}

func NewConsumer(stream kv.Stream, resolver TransportResolver, consumerName string, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{stream: stream, resolver: resolver, consumer: consumerName, log: log}
}

// Run blocks, ensuring the consumer group exists (MKSTREAM, starting at
// "$") and reading until ctx is canceled. Every delivery is ACKed,
// including entries that could not be decoded or sent.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.EnsureGroup(ctx, outgoingStream, consumerGroup, "$"); err != nil {
		return fmt.Errorf("egress: ensure consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := c.stream.ReadGroup(ctx, outgoingStream, consumerGroup, c.consumer, blockTimeout)
		if err != nil {
			c.log.Error("egress: read group failed", "error", err)
			continue
		}

		for _, m := range msgs {
			if err := c.dispatch(ctx, m.Payload); err != nil {
				c.log.Error("egress: dispatch failed", "error", err)
			}
			if err := c.stream.Ack(ctx, outgoingStream, consumerGroup, m.ID); err != nil {
				c.log.Error("egress: ack failed", "id", m.ID, "error", err)
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, payload string) error {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("egress: decode envelope: %w", err)
	}
	if env.BotID == "" || env.Target == "" {
		return fmt.Errorf("egress: envelope missing bot_id/target")
	}

	t, ok := c.resolver.Get(env.BotID)
	if !ok {
		return fmt.Errorf("egress: no transport registered for bot %s", env.BotID)
	}

	return t.SendMessage(ctx, env.BotID, env.Target, toTransportPayload(env))
}

func toTransportPayload(env envelope) transport.Payload {
	switch {
	case env.Payload.Image != nil:
		return transport.Payload{Image: &transport.ImagePayload{URL: env.Payload.Image.URL, Caption: env.Payload.Caption}}
	case env.Payload.Audio != nil:
		return transport.Payload{Audio: &transport.AudioPayload{URL: env.Payload.Audio.URL, PTT: env.Payload.Audio.PTT}}
	default:
		return transport.Payload{Text: env.Payload.Text}
	}
}

// Producer stages outbound sends on the outgoing stream instead of
// delivering them in-process, for deployments where a separate gateway
// owns the last hop. Entries are capped with MAXLEN ~ maxLen the same
// way the inbound stream is.
type Producer struct {
	stream kv.Stream
	maxLen int64
}

func NewProducer(stream kv.Stream, maxLen int64) *Producer {
	return &Producer{stream: stream, maxLen: maxLen}
}

// Stage appends one envelope to the outgoing stream.
func (p *Producer) Stage(ctx context.Context, botID, target string, executionID string, stepOrder int, payload transport.Payload) error {
	env := map[string]interface{}{
		"bot_id": botID,
		"target": target,
	}
	if executionID != "" {
		env["execution_id"] = executionID
		env["step_order"] = stepOrder
	}

	body := map[string]interface{}{}
	switch {
	case payload.Image != nil:
		body["image"] = map[string]interface{}{"url": payload.Image.URL}
		if payload.Image.Caption != "" {
			body["caption"] = payload.Image.Caption
		}
	case payload.Audio != nil:
		body["audio"] = map[string]interface{}{"url": payload.Audio.URL, "ptt": payload.Audio.PTT}
	default:
		body["text"] = payload.Text
	}
	env["payload"] = body

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("egress: marshal envelope: %w", err)
	}
	return p.stream.Add(ctx, outgoingStream, string(data), p.maxLen)
}
