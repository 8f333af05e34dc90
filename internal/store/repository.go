package store

import (
	"context"
	"time"
)

// Repository is the persistent-storage contract the core depends on.
// Concrete implementations (store/pg) talk to the relational schema;
// the core never issues SQL directly.
//
// Unique-key races on Session (botId,identifier) and Message
// (externalId) are resolved inside the implementation: store/pg inserts
// with ON CONFLICT DO NOTHING and re-reads the existing row. A Tool
// (botId,name) collision is returned as ErrAlreadyExists.
type Repository interface {
	GetBot(ctx context.Context, botID string) (*Bot, error)
	// ListBots returns every tenant bot row, for startup transport
	// registration (spec.md §5: one long-lived transport session per bot).
	ListBots(ctx context.Context) ([]Bot, error)

	// GetOrCreateSession is idempotent under the unique (botId,identifier)
	// key: a second concurrent creator must observe the existing row.
	GetOrCreateSession(ctx context.Context, botID, identifier, displayName, platform string) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// UpsertMessage inserts a message keyed by ExternalID. created reports
	// whether this call's insert won the race (false means the row already
	// existed and was not freshly created — the caller must not treat it
	// as new for downstream AI/flow processing).
	UpsertMessage(ctx context.Context, msg *Message) (saved *Message, created bool, err error)
	GetMessageByExternalID(ctx context.Context, botID, externalID string) (*Message, error)
	RecentInboundMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	LastInboundMessage(ctx context.Context, sessionID string) (*Message, error)

	ListActiveTools(ctx context.Context, botID string) ([]Tool, error)
	GetTool(ctx context.Context, botID, name string) (*Tool, error)
	CreateTool(ctx context.Context, t *Tool) (*Tool, error)

	GetFlow(ctx context.Context, flowID string) (*Flow, error)
	ListTriggers(ctx context.Context, botID string) ([]Trigger, error)

	CreateExecution(ctx context.Context, e *Execution) (*Execution, error)
	UpdateExecution(ctx context.Context, e *Execution) error

	GetLabelByName(ctx context.Context, botID, name string) (*Label, error)
	ListLabels(ctx context.Context, botID string) ([]Label, error)
	AddSessionLabel(ctx context.Context, sessionID, labelID string) error
	RemoveSessionLabel(ctx context.Context, sessionID, labelID string) error
	SessionsByLabel(ctx context.Context, botID, labelName string) ([]Session, error)
	SessionsWithoutLabels(ctx context.Context, botID string) ([]Session, error)
	SessionLabelsFor(ctx context.Context, sessionID string) ([]Label, error)

	ListEnabledAutomations(ctx context.Context) ([]Automation, error)

	// AppendConversationLog writes one durable turn. Failures here must
	// never abort the caller's in-flight AI turn (spec.md §7).
	AppendConversationLog(ctx context.Context, entry *ConversationLogEntry) error
	// ConversationLogSince returns turns for a session created at or after
	// `since`, ordered oldest-first, capped at `limit` rows.
	ConversationLogSince(ctx context.Context, sessionID string, since time.Time, limit int) ([]ConversationLogEntry, error)
	ClearConversationLog(ctx context.Context, sessionID string) error
	// TagRecentAssistantTurns attaches model + token usage metadata to the
	// most recently written assistant turns (best-effort).
	TagRecentAssistantTurns(ctx context.Context, sessionID, model string, promptTokens, completionTokens, count int) error
}
