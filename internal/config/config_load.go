package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with the orchestrator's documented defaults
// (spec.md §6/§9).
func Default() *Config {
	return &Config{
		Conversation: ConversationConfig{
			CacheTTLSeconds: 604_800,
			MaxMessages:     100,
			PgHistoryDays:   7,
		},
		Lock: LockConfig{
			TTL:               60 * time.Second,
			MaxPendingRetries: 3,
		},
		Automation: AutomationConfig{
			CheckIntervalMS: 1_800_000,
		},
		Tools: ToolsConfig{
			MaxIterations:  10,
			WebhookTimeout: 15 * time.Second,
		},
	}
}

// Load reads config from a JSON5 file, then overlays environment
// variables (secrets always come from env, never the file).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WAORCH_POSTGRES_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("WAORCH_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("WAORCH_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("WAORCH_TRANSPORT_BRIDGE_URL"); v != "" {
		c.Transport.BridgeURL = v
	}
	if v := os.Getenv("WAORCH_TRANSPORT_TOKEN"); v != "" {
		c.Transport.AuthToken = v
	}
	if v := os.Getenv("WAORCH_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Lock.TTL = d
		}
	}
	if v := os.Getenv("WAORCH_CONV_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Conversation.CacheTTLSeconds = n
		}
	}
	if v := os.Getenv("WAORCH_CONV_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Conversation.MaxMessages = n
		}
	}
	if v := os.Getenv("WAORCH_CONV_PG_HISTORY_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Conversation.PgHistoryDays = n
		}
	}
	if v := os.Getenv("WAORCH_AUTOMATION_CHECK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Automation.CheckIntervalMS = n
		}
	}

	// Provider API keys: WAORCH_PROVIDER_<UPPER_NAME>_API_KEY
	for i := range c.Providers.Available {
		p := &c.Providers.Available[i]
		key := "WAORCH_PROVIDER_" + strings.ToUpper(p.Name) + "_API_KEY"
		if v := os.Getenv(key); v != "" {
			p.APIKey = v
		}
	}
}
