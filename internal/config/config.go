// Package config defines the orchestrator's configuration shape and
// load path (spec.md §6: lock/conversation/automation tuning, provider
// credentials and failover mapping, Postgres/Redis/transport
// endpoints). Grounded on the teacher's internal/config package: a
// plain struct tree unmarshalled from JSON5 via
// github.com/titanous/json5, then overlaid with environment variables,
// generalized from the teacher's very large multi-channel/sandbox/
// telemetry shape down to the fields this orchestrator actually reads.
package config

import "time"

// Config is the root configuration for the orchestrator process.
type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Conversation ConversationConfig `json:"conversation"`
	Lock         LockConfig         `json:"lock"`
	Automation   AutomationConfig   `json:"automation"`
	Accumulator  AccumulatorConfig  `json:"accumulator"`
	Tools        ToolsConfig        `json:"tools"`
	Providers    ProvidersConfig    `json:"providers"`
	Transport    TransportConfig    `json:"transport"`
}

// DatabaseConfig configures the durable Postgres store.
// DSN is never read from the config file — only from env
// WAORCH_POSTGRES_DSN, since it carries credentials.
type DatabaseConfig struct {
	DSN            string `json:"-"`
	MigrationsPath string `json:"migrations_path,omitempty"`
	MaxOpenConns   int    `json:"max_open_conns,omitempty"`
}

// RedisConfig configures the KV/lock/queue backend.
// Addr is never read from the config file — only from env
// WAORCH_REDIS_ADDR, since it may carry embedded credentials.
type RedisConfig struct {
	Addr     string `json:"-"`
	Password string `json:"-"`
	DB       int    `json:"db,omitempty"`
}

// ConversationConfig tunes the ConversationStore (spec.md §4.2).
type ConversationConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds,omitempty"` // default 604800 (7 days)
	MaxMessages     int `json:"max_messages,omitempty"`      // default 100
	PgHistoryDays   int `json:"pg_history_days,omitempty"`   // default 7
}

// LockConfig tunes the per-session serialization lock (spec.md §5).
type LockConfig struct {
	TTL time.Duration `json:"ttl,omitempty"` // default 60s

	// MaxPendingRetries bounds the drain-recursion depth after lock
	// release, guarding against an unbounded chain of pending arrivals.
	MaxPendingRetries int `json:"max_pending_retries,omitempty"` // default 3
}

// AutomationConfig tunes the AutomationSweeper (spec.md §4.8).
type AutomationConfig struct {
	CheckIntervalMS int `json:"check_interval_ms,omitempty"` // default 1_800_000 (30min)
}

// AccumulatorConfig tunes the inbound message debounce (spec.md §4.1).
type AccumulatorConfig struct {
	DelayMS int `json:"delay_ms,omitempty"` // default 0 (disabled unless set per-bot)
}

// ToolsConfig tunes the ToolRegistry/ToolExecutor.
type ToolsConfig struct {
	MaxIterations  int           `json:"max_iterations,omitempty"`  // default 10
	WebhookTimeout time.Duration `json:"webhook_timeout,omitempty"` // default 15s
}

// ProviderCredential names one concrete AI backend this process can
// call: its kind ("gemini" or "openai"-wire-compatible), API key (env
// only), base URL, and default model.
type ProviderCredential struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"` // "gemini" | "openai"
	APIKey  string `json:"-"`    // from env WAORCH_PROVIDER_<NAME>_API_KEY
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// ProvidersConfig lists available providers and the primary→fallback
// mapping used on failover (spec.md §4.6.1).
type ProvidersConfig struct {
	Available []ProviderCredential `json:"available"`
	Primary   string               `json:"primary"`            // name of the primary provider
	Fallback  string               `json:"fallback,omitempty"` // name of the fallback provider, "" = no failover
	// ModelMapping maps a primary model name to the fallback model name
	// to substitute on failover.
	ModelMapping map[string]string `json:"model_mapping,omitempty"`
}

// TransportConfig configures the WhatsApp bridge transport (spec.md §6).
type TransportConfig struct {
	BridgeURL string `json:"bridge_url,omitempty"`
	// AuthToken is never read from the config file — env
	// WAORCH_TRANSPORT_TOKEN only.
	AuthToken string `json:"-"`
}
