// Package kv defines the key-value/stream contract the core depends on
// for locks, counters, pending queues, and outbound fan-out staging
// (spec.md §6), plus a concrete Redis-backed implementation grounded on
// the "redis/go-redis/v9" usage in the wider example pack.
package kv

import (
	"context"
	"time"
)

// KV is the lock/counter/list contract the core depends on.
type KV interface {
	// SetIfAbsent sets key=value with the given TTL only if key does not
	// already exist. Returns true if this call won the set.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	RPush(ctx context.Context, key string, value string) error
	LPop(ctx context.Context, key string) (string, bool, error)
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// StreamMessage is one entry read from a consumer-group stream.
type StreamMessage struct {
	ID      string
	Payload string // the "payload" field value
}

// Stream is the blocking consumer-group stream contract used for the
// outbound fan-out (spec.md §6: stream key "agentic:queue:outgoing",
// group "node_gateway_group") and the inbound ingestion path
// ("agentic:queue:incoming").
type Stream interface {
	// EnsureGroup creates the stream (MKSTREAM) and consumer group at the
	// given starting position ("$" for "new messages only") if absent.
	EnsureGroup(ctx context.Context, stream, group, start string) error
	// Add appends an entry with MAXLEN ~ approxMaxLen (0 = unbounded).
	Add(ctx context.Context, stream string, payload string, approxMaxLen int64) error
	// ReadGroup blocks up to block for new entries for the named consumer.
	ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration) ([]StreamMessage, error)
	// Ack acknowledges delivery, including for entries the consumer could
	// not process ("poison pills" are still ACKed per spec.md §6).
	Ack(ctx context.Context, stream, group, id string) error
}
