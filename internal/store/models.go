// Package store defines the relational data model and the Repository
// contract the core depends on. Concrete persistence lives in store/pg;
// this package only describes shapes and invariants.
package store

import "time"

// MessageType enumerates the kinds of inbound/outbound message content.
type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageImage    MessageType = "IMAGE"
	MessageAudio    MessageType = "AUDIO"
	MessageDocument MessageType = "DOCUMENT"
)

// ToolActionType enumerates how a Tool row is dispatched by the executor.
type ToolActionType string

const (
	ActionFlow    ToolActionType = "FLOW"
	ActionWebhook ToolActionType = "WEBHOOK"
	ActionBuiltin ToolActionType = "BUILTIN"
)

// ToolStatus enumerates whether a Tool row is visible to the model.
type ToolStatus string

const (
	ToolActive   ToolStatus = "ACTIVE"
	ToolDisabled ToolStatus = "DISABLED"
)

// StepType enumerates FlowEngine step kinds.
type StepType string

const (
	StepText     StepType = "TEXT"
	StepImage    StepType = "IMAGE"
	StepAudio    StepType = "AUDIO"
	StepPTT      StepType = "PTT"
)

// TriggerMatchType enumerates FlowEngine trigger matching strategies.
type TriggerMatchType string

const (
	MatchContains   TriggerMatchType = "CONTAINS"
	MatchEquals     TriggerMatchType = "EQUALS"
	MatchStartsWith TriggerMatchType = "STARTS_WITH"
	MatchRegex      TriggerMatchType = "REGEX"
)

// TriggerScope enumerates which message direction a trigger applies to.
type TriggerScope string

const (
	ScopeIncoming TriggerScope = "INCOMING"
	ScopeOutgoing TriggerScope = "OUTGOING"
	ScopeBoth     TriggerScope = "BOTH"
)

// ExecutionStatus enumerates FlowEngine execution lifecycle states.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// AutomationEvent enumerates the kinds of automation triggers.
// Inactivity is the only event currently defined by the spec.
type AutomationEvent string

const (
	EventInactivity AutomationEvent = "INACTIVITY"
)

// Bot is a tenant record.
type Bot struct {
	ID             string
	Provider       string // AI provider selector, e.g. "GEMINI", "OPENAI"
	Model          string
	SystemPrompt   string
	Temperature    float64
	MessageDelayMs int
	IgnoredLabels  []string
	ExcludeGroups  bool
	AIEnabled      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session is a (bot, external-identifier) pairing.
type Session struct {
	ID          string
	BotID       string
	Identifier  string
	DisplayName string
	Platform    string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is an inbound or outbound unit, deduplicated by ExternalID.
type Message struct {
	ID          string
	SessionID   string
	ExternalID  string // empty for synthetic messages (automation)
	Sender      string
	FromMe      bool
	Content     string
	Type        MessageType
	MediaURL    string
	IsProcessed bool
	CreatedAt   time.Time
}

// Tool is a (botId, name) unique, model-callable function definition.
type Tool struct {
	ID          string
	BotID       string
	Name        string // sanitized, must match ^[a-z0-9_]+$
	Description string
	Parameters  map[string]interface{} // JSON-Schema
	ActionType  ToolActionType
	ActionConfig map[string]interface{}
	Status      ToolStatus
	FlowID      string
}

// Flow is an ordered sequence of outbound Steps.
type Flow struct {
	ID    string
	BotID string
	Name  string
	Steps []Step
}

// Step is one FlowEngine step, ordered ascending by Order within its Flow.
type Step struct {
	ID       string
	FlowID   string
	Order    int
	Type     StepType
	Content  string // may contain {{placeholder}}
	MediaURL string
	DelayMs  int
}

// Label mirrors a WhatsApp chat label.
type Label struct {
	ID       string
	BotID    string
	WALabelID string
	Name     string
}

// SessionLabel is the (sessionId, labelId) association.
type SessionLabel struct {
	SessionID string
	LabelID   string
}

// Automation is a periodic inactivity-nudge rule.
type Automation struct {
	ID        string
	BotID     string
	Name      string
	Enabled   bool
	Event     AutomationEvent
	LabelName string // optional; empty means "sessions with no labels"
	TimeoutMs int64
	Prompt    string
}

// ConversationLogEntry is the durable mirror of one ConversationTurn.
type ConversationLogEntry struct {
	ID               string
	SessionID        string
	Role             string // system | user | assistant | tool
	Content          string
	ToolCalls        []ToolCallRecord // assistant turns only
	ToolCallID       string           // tool turns only
	ToolName         string           // tool turns only
	Model            string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// ToolCallRecord is the durable shape of one assistant tool call.
type ToolCallRecord struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Trigger is a FlowEngine keyword match rule attached to a Flow.
type Trigger struct {
	ID        string
	BotID     string
	FlowID    string
	Keyword   string
	MatchType TriggerMatchType
	Scope     TriggerScope
}

// Execution is one FlowEngine run of a Flow against a Session.
type Execution struct {
	ID         string
	FlowID     string
	SessionID  string
	Status     ExecutionStatus
	CurrentStep int
	StartedAt  time.Time
	FinishedAt *time.Time
}
