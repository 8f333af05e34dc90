// Package transport defines the WhatsApp transport contract spec.md
// §6 describes — the core only ever talks to this interface, never to
// a concrete WhatsApp client directly (spec.md §1: the transport
// protocol itself is out of scope; QR pairing and media download are
// not part of this interface or of the reference implementation).
package transport

import "context"

// Presence mirrors the two presence states the core ever requests
// (spec.md §4.6 step a/g: "composing" while a turn is in flight,
// cleared once it completes).
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// ImagePayload is the {image:{url},caption?} outbound shape.
type ImagePayload struct {
	URL     string
	Caption string
}

// AudioPayload is the {audio:{url},ptt?} outbound shape.
type AudioPayload struct {
	URL string
	PTT bool
}

// QuotedMessage is the body of a quote-reply's contextInfo.
type QuotedMessage struct {
	Conversation string
}

// ContextInfo carries quote-reply metadata for the
// {text,contextInfo:{stanzaId,participant,quotedMessage}} shape.
type ContextInfo struct {
	StanzaID      string
	Participant   string
	QuotedMessage QuotedMessage
}

// Payload is the outbound send shape spec.md §6 enumerates. Exactly
// one of Text-only, Image, or Audio is populated per call; ContextInfo
// is optional and only meaningful alongside Text (quote-reply).
type Payload struct {
	Text        string
	Image       *ImagePayload
	Audio       *AudioPayload
	ContextInfo *ContextInfo
}

// Transport is the WhatsApp session/send contract the core depends on
// (spec.md §6). Label sync is left to the concrete implementation; the
// core never inspects how it is done.
type Transport interface {
	StartSession(ctx context.Context, botID string) error
	StopSession(ctx context.Context, botID string) error
	SendMessage(ctx context.Context, botID, identifier string, payload Payload) error
	MarkRead(ctx context.Context, botID, identifier, externalID string) error
	SendPresence(ctx context.Context, botID, identifier string, presence Presence) error
	AddChatLabel(ctx context.Context, botID, identifier, waLabelID string) error
	RemoveChatLabel(ctx context.Context, botID, identifier, waLabelID string) error
	SyncLabels(ctx context.Context, botID string) error
	ShutdownAll(ctx context.Context) error
}
