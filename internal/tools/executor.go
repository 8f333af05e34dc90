package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/conversation"
	"github.com/nextlevelbuilder/waorchestrator/internal/eventbus"
	"github.com/nextlevelbuilder/waorchestrator/internal/flow"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// MessageSender delivers outbound content to a session, used by the
// reply_to_message/send_followup_message built-ins.
type MessageSender interface {
	SendText(ctx context.Context, sessionID, content string) error
	// SendQuotedReply sends content as a quote-reply to the message
	// identified by quotedExternalID (spec.md §4.4 reply_to_message:
	// "quote-reply using a stored externalId").
	SendQuotedReply(ctx context.Context, sessionID, content, quotedExternalID string) error
}

// ChatLabeler mirrors label assignment to the chat transport so the
// WhatsApp side stays in sync with the session_labels rows (spec.md
// §4.4 assign_label/remove_label). Optional: when absent, only the
// database association changes.
type ChatLabeler interface {
	AddChatLabel(ctx context.Context, sessionID, waLabelID string) error
	RemoveChatLabel(ctx context.Context, sessionID, waLabelID string) error
}

const defaultWebhookTimeout = 15 * time.Second

// Executor dispatches model-requested tool calls to their FLOW/WEBHOOK/
// BUILTIN implementation (spec.md §4.4).
//
// Grounded on the teacher's tool-dispatch switchboard shape
// (internal/tools, now rewritten) generalized to the three DB-declared
// action types this spec defines, plus a fixed built-in fast path.
type Executor struct {
	repo       store.Repository
	conv       *conversation.Store
	flowEng    *flow.Engine
	sender     MessageSender
	labeler    ChatLabeler
	directory  ClientDirectory
	bus        *eventbus.Bus
	log        *slog.Logger
	httpClient *http.Client
	webhookTTL time.Duration

	// replySent dedups reply_to_message within a single turn, keyed by
	// sessionID + ":" + the external message ID the reply targets (spec.md §4.6: a tool
	// loop must never send two replies to the same inbound message).
	replySent map[string]bool
}

// ExecutorOption configures optional executor collaborators.
type ExecutorOption func(*Executor)

// WithChatLabeler mirrors assign_label/remove_label to the transport.
func WithChatLabeler(l ChatLabeler) ExecutorOption {
	return func(e *Executor) { e.labeler = l }
}

func NewExecutor(repo store.Repository, conv *conversation.Store, flowEng *flow.Engine, sender MessageSender, directory ClientDirectory, bus *eventbus.Bus, opts ...ExecutorOption) *Executor {
	e := &Executor{
		repo:       repo,
		conv:       conv,
		flowEng:    flowEng,
		sender:     sender,
		directory:  directory,
		bus:        bus,
		log:        slog.Default(),
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
		webhookTTL: defaultWebhookTimeout,
		replySent:  make(map[string]bool),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ResetTurn clears per-turn dedup state. Call once per AI turn, before
// the first tool-loop iteration.
func (e *Executor) ResetTurn() {
	e.replySent = make(map[string]bool)
}

// RepliedThisTurn reports whether reply_to_message successfully sent a
// reply at any point during the current turn. The engine uses this to
// suppress the final-content send (spec.md §4.6.h): the reply has
// already gone out, so sending the model's trailing content again
// would double-message the user.
func (e *Executor) RepliedThisTurn() bool {
	return len(e.replySent) > 0
}

// Execute dispatches one model tool call against t's ActionType.
func (e *Executor) Execute(ctx context.Context, t *store.Tool, args map[string]interface{}) *Result {
	switch t.ActionType {
	case store.ActionBuiltin:
		return e.executeBuiltin(ctx, t.Name, args)
	case store.ActionFlow:
		return e.executeFlow(ctx, t, args)
	case store.ActionWebhook:
		return e.executeWebhook(ctx, t, args)
	default:
		return ErrorResult(fmt.Sprintf("unknown action type %q for tool %q", t.ActionType, t.Name))
	}
}

func (e *Executor) executeFlow(ctx context.Context, t *store.Tool, args map[string]interface{}) *Result {
	sessionID := SessionIDFromCtx(ctx)
	if sessionID == "" {
		return ErrorResult("tool: no session in context")
	}
	if err := e.flowEng.Start(ctx, t.FlowID, sessionID, args); err != nil {
		return ErrorResult(fmt.Sprintf("flow %s failed: %v", t.FlowID, err))
	}
	return NewResult(fmt.Sprintf("flow %s started", t.Name))
}

// executeWebhook POSTs (or whatever method actionConfig names) the
// call's arguments merged with the session context to the configured
// URL (spec.md §4.4: body is `{...arguments, sessionId, identifier}`;
// success mirrors HTTP 2xx).
func (e *Executor) executeWebhook(ctx context.Context, t *store.Tool, args map[string]interface{}) *Result {
	url, _ := t.ActionConfig["url"].(string)
	if url == "" {
		return ErrorResult(fmt.Sprintf("tool %s: webhook has no url configured", t.Name))
	}
	method, _ := t.ActionConfig["method"].(string)
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)

	headers := map[string]string{}
	if raw, ok := t.ActionConfig["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		sessionID := SessionIDFromCtx(ctx)
		payload := make(map[string]interface{}, len(args)+2)
		for k, v := range args {
			payload[k] = v
		}
		payload["sessionId"] = sessionID
		if sess, err := e.repo.GetSession(ctx, sessionID); err == nil && sess != nil {
			payload["identifier"] = sess.Identifier
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return ErrorResult(fmt.Sprintf("tool %s: marshal arguments: %v", t.Name, err))
		}
		bodyReader = bytes.NewReader(body)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.webhookTTL)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return ErrorResult(fmt.Sprintf("tool %s: build request: %v", t.Name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("tool %s: webhook call failed: %v", t.Name, err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorResult(fmt.Sprintf("tool %s: webhook returned %d: %s", t.Name, resp.StatusCode, string(respBody)))
	}

	// A JSON response is re-serialized compactly; anything else is
	// handed to the model as raw text.
	var parsed interface{}
	if json.Unmarshal(respBody, &parsed) == nil {
		if compact, err := json.Marshal(parsed); err == nil {
			return NewResult(string(compact))
		}
	}
	return NewResult(string(respBody))
}

func (e *Executor) executeBuiltin(ctx context.Context, name string, args map[string]interface{}) *Result {
	switch name {
	case "get_current_time":
		return e.builtinGetCurrentTime(args)

	case "clear_conversation":
		sessionID := SessionIDFromCtx(ctx)
		if err := e.conv.Clear(ctx, sessionID); err != nil {
			return ErrorResult(fmt.Sprintf("clear_conversation: %v", err))
		}
		return SilentResult("conversation cleared")

	case "get_labels":
		return e.builtinGetLabels(ctx)

	case "assign_label":
		return e.builtinSetLabel(ctx, args, true)

	case "remove_label":
		return e.builtinSetLabel(ctx, args, false)

	case "get_sessions_by_label":
		return e.builtinSessionsByLabel(ctx, args)

	case "reply_to_message":
		return e.builtinReplyToMessage(ctx, args)

	case "send_followup_message":
		return e.builtinSendFollowup(ctx, args)

	case "lookup_client":
		return e.builtinLookupClient(ctx, args)

	case "register_client":
		return e.builtinRegisterClient(ctx, args)

	case "save_credentials":
		return e.builtinSaveCredentials(ctx, args)

	default:
		return ErrorResult(fmt.Sprintf("unknown builtin tool %q", name))
	}
}

const defaultTimeZone = "America/Mexico_City"

// builtinGetCurrentTime returns the localised time in the IANA zone named
// by args["timezone"], defaulting to America/Mexico_City (spec.md §4.4).
// An unknown zone name falls back to the default rather than erroring,
// since this is informational and should never break the tool loop.
func (e *Executor) builtinGetCurrentTime(args map[string]interface{}) *Result {
	zoneName, _ := args["timezone"].(string)
	if zoneName == "" {
		zoneName = defaultTimeZone
	}
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		loc, err = time.LoadLocation(defaultTimeZone)
		if err != nil {
			loc = time.UTC
		}
	}
	return NewResult(time.Now().In(loc).Format(time.RFC3339))
}

// builtinGetLabels enumerates the bot's labels with the number of
// sessions currently holding each (spec.md §4.4).
func (e *Executor) builtinGetLabels(ctx context.Context) *Result {
	botID := BotIDFromCtx(ctx)
	labels, err := e.repo.ListLabels(ctx, botID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("get_labels: %v", err))
	}
	entries := make([]string, len(labels))
	for i, l := range labels {
		sessions, err := e.repo.SessionsByLabel(ctx, botID, l.Name)
		if err != nil {
			entries[i] = l.Name
			continue
		}
		entries[i] = fmt.Sprintf("%s (%d)", l.Name, len(sessions))
	}
	return NewResult(strings.Join(entries, ", "))
}

func (e *Executor) builtinSetLabel(ctx context.Context, args map[string]interface{}, assign bool) *Result {
	botID := BotIDFromCtx(ctx)
	sessionID := SessionIDFromCtx(ctx)
	labelName, _ := args["label"].(string)
	if labelName == "" {
		return ErrorResult("label argument is required")
	}

	label, err := e.repo.GetLabelByName(ctx, botID, labelName)
	if err != nil {
		return ErrorResult(fmt.Sprintf("label %q not found: %v", labelName, err))
	}

	if assign {
		err = e.repo.AddSessionLabel(ctx, sessionID, label.ID)
	} else {
		err = e.repo.RemoveSessionLabel(ctx, sessionID, label.ID)
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("update label: %v", err))
	}

	// Mirror the change to the chat transport. A transport hiccup does
	// not undo the persisted association (spec.md §7: log + continue).
	if e.labeler != nil && label.WALabelID != "" {
		if assign {
			err = e.labeler.AddChatLabel(ctx, sessionID, label.WALabelID)
		} else {
			err = e.labeler.RemoveChatLabel(ctx, sessionID, label.WALabelID)
		}
		if err != nil {
			e.log.Warn("tools: chat label sync failed", "session_id", sessionID, "label", labelName, "error", err)
		}
	}
	return SilentResult(fmt.Sprintf("label %q updated", labelName))
}

const defaultSessionsByLabelMessageCount = 5

// builtinSessionsByLabel returns sessions holding a named label, each with
// its last N inbound messages (spec.md §4.4, N default 5).
func (e *Executor) builtinSessionsByLabel(ctx context.Context, args map[string]interface{}) *Result {
	botID := BotIDFromCtx(ctx)
	labelName, _ := args["label"].(string)
	n := defaultSessionsByLabelMessageCount
	if raw, ok := args["count"].(float64); ok && raw > 0 {
		n = int(raw)
	}

	sessions, err := e.repo.SessionsByLabel(ctx, botID, labelName)
	if err != nil {
		return ErrorResult(fmt.Sprintf("get_sessions_by_label: %v", err))
	}

	var sb strings.Builder
	for i, s := range sessions {
		if i > 0 {
			sb.WriteString("\n")
		}
		msgs, err := e.repo.RecentInboundMessages(ctx, s.ID, n)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%s (%s): <error loading messages: %v>", s.ID, s.DisplayName, err))
			continue
		}
		texts := make([]string, len(msgs))
		for j, m := range msgs {
			texts[j] = m.Content
		}
		sb.WriteString(fmt.Sprintf("%s (%s): %s", s.ID, s.DisplayName, strings.Join(texts, " | ")))
	}
	return NewResult(sb.String())
}

// builtinReplyToMessage sends content directly to the user and
// suppresses any further model-visible echo, deduping per external
// message ID so a tool loop can never double-reply to one inbound
// message (spec.md §4.6). The quoted message_id must resolve to a row
// belonging to the current bot (spec.md §4.4: "validates the quoted
// message belongs to the current bot") — a message_id from another
// tenant's conversation is rejected rather than silently quoted.
func (e *Executor) builtinReplyToMessage(ctx context.Context, args map[string]interface{}) *Result {
	botID := BotIDFromCtx(ctx)
	sessionID := SessionIDFromCtx(ctx)
	content, _ := args["content"].(string)
	msgID, _ := args["message_id"].(string)
	if content == "" {
		return ErrorResult("content argument is required")
	}

	dedupKey := sessionID + ":" + msgID
	if e.replySent[dedupKey] {
		return &Result{
			ForLLM:      "Ya respondiste a este mensaje. No vuelvas a llamar a reply_to_message para el mismo message_id.",
			Silent:      true,
			IsDuplicate: true,
		}
	}

	if msgID != "" {
		quoted, err := e.repo.GetMessageByExternalID(ctx, botID, msgID)
		if err != nil || quoted == nil {
			return ErrorResult(fmt.Sprintf("reply_to_message: message_id %q not found for this bot", msgID))
		}
		if err := e.sender.SendQuotedReply(ctx, sessionID, content, msgID); err != nil {
			return ErrorResult(fmt.Sprintf("reply_to_message: %v", err))
		}
	} else if err := e.sender.SendText(ctx, sessionID, content); err != nil {
		return ErrorResult(fmt.Sprintf("reply_to_message: %v", err))
	}

	e.replySent[dedupKey] = true
	e.bus.Publish(eventbus.Event{Subject: eventbus.SubjectMessageSent, Payload: content})
	return SilentResult("reply sent")
}

// builtinSendFollowup sends content to a different session belonging
// to the same bot (spec.md §4.4: "send text to a different session
// belonging to the same bot"), then persists the outbound message so
// it appears in that session's own history and message log.
func (e *Executor) builtinSendFollowup(ctx context.Context, args map[string]interface{}) *Result {
	botID := BotIDFromCtx(ctx)
	targetSessionID, _ := args["session_id"].(string)
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content argument is required")
	}
	if targetSessionID == "" {
		return ErrorResult("session_id argument is required")
	}

	target, err := e.repo.GetSession(ctx, targetSessionID)
	if err != nil || target == nil {
		return ErrorResult(fmt.Sprintf("send_followup_message: session %q not found", targetSessionID))
	}
	if target.BotID != botID {
		return ErrorResult(fmt.Sprintf("send_followup_message: session %q does not belong to this bot", targetSessionID))
	}

	if err := e.sender.SendText(ctx, targetSessionID, content); err != nil {
		return ErrorResult(fmt.Sprintf("send_followup_message: %v", err))
	}

	outbound := &store.Message{
		SessionID:  targetSessionID,
		ExternalID: uuid.NewString(),
		FromMe:     true,
		Type:       store.MessageText,
		Content:    content,
	}
	// Best-effort: the message already reached the user, so a persistence
	// failure here must not be surfaced as a tool error.
	_, _, _ = e.repo.UpsertMessage(ctx, outbound)

	e.bus.Publish(eventbus.Event{Subject: eventbus.SubjectMessageSent, BotID: botID, Payload: content})
	return SilentResult("followup sent")
}

func (e *Executor) builtinLookupClient(ctx context.Context, args map[string]interface{}) *Result {
	botID := BotIDFromCtx(ctx)
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query argument is required")
	}
	c, err := e.directory.Lookup(ctx, botID, query)
	if err != nil {
		return ErrorResult(fmt.Sprintf("lookup_client: %v", err))
	}
	if c == nil {
		return NewResult("no matching client found")
	}
	return NewResult(fmt.Sprintf("client %s: %s (phone=%s, email=%s)", c.ID, c.Name, c.Phone, c.Email))
}

func (e *Executor) builtinRegisterClient(ctx context.Context, args map[string]interface{}) *Result {
	botID := BotIDFromCtx(ctx)
	name, _ := args["name"].(string)
	curp, _ := args["curp"].(string)
	phone, _ := args["phone"].(string)
	email, _ := args["email"].(string)

	if curp != "" && !ValidateCURP(curp) {
		return ErrorResult("curp is not a valid CURP")
	}
	if phone != "" && !ValidatePhone(phone) {
		return ErrorResult("phone is not a valid phone number")
	}
	if email != "" && !ValidateEmail(email) {
		return ErrorResult("email is not a valid email address")
	}

	c, err := e.directory.Register(ctx, botID, Client{Name: name, CURP: curp, Phone: phone, Email: email})
	if err != nil {
		return ErrorResult(fmt.Sprintf("register_client: %v", err))
	}
	return NewResult(fmt.Sprintf("client registered with id %s", c.ID))
}

func (e *Executor) builtinSaveCredentials(ctx context.Context, args map[string]interface{}) *Result {
	botID := BotIDFromCtx(ctx)
	clientID, _ := args["client_id"].(string)
	if clientID == "" {
		return ErrorResult("client_id argument is required")
	}

	creds := make(map[string]string)
	if raw, ok := args["credentials"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				creds[k] = s
			}
		}
	}

	if err := e.directory.SaveCredentials(ctx, botID, clientID, creds); err != nil {
		return ErrorResult(fmt.Sprintf("save_credentials: %v", err))
	}
	return SilentResult("credentials saved")
}
