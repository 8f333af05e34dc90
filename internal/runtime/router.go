package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
	"github.com/nextlevelbuilder/waorchestrator/internal/transport"
)

// FlowEvaluator matches a just-sent outbound message against OUTGOING/
// BOTH-scoped triggers (spec.md §4.7 scope guard). Implemented by
// *flow.Engine; kept as a narrow local interface so runtime never
// imports the flow package directly.
type FlowEvaluator interface {
	EvaluateOutgoing(ctx context.Context, botID, sessionID, content string) error
}

// Router resolves a sessionID to its owning bot and transport, and
// implements every outbound-send seam the core depends on
// (agentcore.Sender/PresenceNotifier, flow.Sender, tools.MessageSender)
// against a single concrete transport.Transport — satisfied
// structurally, without importing any of those packages, the same way
// the teacher's channel implementations satisfy bus.MessageRouter-
// adjacent interfaces without a shared base type for every consumer.
type Router struct {
	repo     store.Repository
	reg      *Registry
	log      *slog.Logger
	flowEval FlowEvaluator
}

func NewRouter(repo store.Repository, reg *Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{repo: repo, reg: reg, log: log}
}

// SetFlowEvaluator wires the FlowEngine so every text reply sent
// through SendText is also checked against OUTGOING/BOTH triggers.
func (r *Router) SetFlowEvaluator(f FlowEvaluator) { r.flowEval = f }

func (r *Router) resolve(ctx context.Context, sessionID string) (*store.Session, transport.Transport, error) {
	sess, err := r.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("runtime: resolve session: %w", err)
	}
	t, ok := r.reg.Get(sess.BotID)
	if !ok {
		return nil, nil, fmt.Errorf("runtime: no transport registered for bot %s", sess.BotID)
	}
	return sess, t, nil
}

// SendText satisfies agentcore.Sender and tools.MessageSender.
func (r *Router) SendText(ctx context.Context, sessionID, content string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := t.SendMessage(ctx, sess.BotID, sess.Identifier, transport.Payload{Text: content}); err != nil {
		return err
	}
	if r.flowEval != nil {
		if err := r.flowEval.EvaluateOutgoing(ctx, sess.BotID, sessionID, content); err != nil {
			r.log.Error("runtime: evaluate outgoing triggers failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// SendQuotedReply satisfies tools.MessageSender: send content as a
// quote-reply referencing quotedExternalID via the transport's
// ContextInfo shape (spec.md §6: "{text,contextInfo:{stanzaId,...}}").
func (r *Router) SendQuotedReply(ctx context.Context, sessionID, content, quotedExternalID string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	payload := transport.Payload{
		Text: content,
		ContextInfo: &transport.ContextInfo{
			StanzaID:      quotedExternalID,
			QuotedMessage: transport.QuotedMessage{Conversation: content},
		},
	}
	if err := t.SendMessage(ctx, sess.BotID, sess.Identifier, payload); err != nil {
		return err
	}
	if r.flowEval != nil {
		if err := r.flowEval.EvaluateOutgoing(ctx, sess.BotID, sessionID, content); err != nil {
			r.log.Error("runtime: evaluate outgoing triggers failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// MarkRead satisfies agentcore.ReadMarker: flag one inbound message as
// read on the chat surface before the turn starts.
func (r *Router) MarkRead(ctx context.Context, sessionID, externalID string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return t.MarkRead(ctx, sess.BotID, sess.Identifier, externalID)
}

// AddChatLabel/RemoveChatLabel satisfy tools.ChatLabeler, keeping the
// WhatsApp-side label association in step with session_labels rows.
func (r *Router) AddChatLabel(ctx context.Context, sessionID, waLabelID string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return t.AddChatLabel(ctx, sess.BotID, sess.Identifier, waLabelID)
}

func (r *Router) RemoveChatLabel(ctx context.Context, sessionID, waLabelID string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return t.RemoveChatLabel(ctx, sess.BotID, sess.Identifier, waLabelID)
}

// SetComposing/ClearComposing satisfy agentcore.PresenceNotifier.
func (r *Router) SetComposing(ctx context.Context, sessionID string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return t.SendPresence(ctx, sess.BotID, sess.Identifier, transport.PresenceComposing)
}

func (r *Router) ClearComposing(ctx context.Context, sessionID string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return t.SendPresence(ctx, sess.BotID, sess.Identifier, transport.PresencePaused)
}

// SendStep satisfies flow.Sender: render one FlowEngine step into the
// transport's Payload shape and send it (spec.md §4.7).
func (r *Router) SendStep(ctx context.Context, sessionID string, step store.Step, rendered string) error {
	sess, t, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}

	var payload transport.Payload
	switch step.Type {
	case store.StepImage:
		payload = transport.Payload{Image: &transport.ImagePayload{URL: step.MediaURL, Caption: rendered}}
	case store.StepAudio:
		payload = transport.Payload{Audio: &transport.AudioPayload{URL: step.MediaURL}}
	case store.StepPTT:
		payload = transport.Payload{Audio: &transport.AudioPayload{URL: step.MediaURL, PTT: true}}
	default:
		payload = transport.Payload{Text: rendered}
	}
	return t.SendMessage(ctx, sess.BotID, sess.Identifier, payload)
}
