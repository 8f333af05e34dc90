package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KV and Stream over a single redis.Client. Grounded on
// the redis/go-redis/v9 client shape used elsewhere in the example pack
// (goa-design/goa-ai, intelligencedev/manifold) — those repos use it for
// caching and pub/sub; here it backs the core's distributed lock,
// pending-overflow queue, and automation idempotency leases (spec.md §5).
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *RedisKV) RPush(ctx context.Context, key string, value string) error {
	return r.client.RPush(ctx, key, value).Err()
}

func (r *RedisKV) LPop(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *RedisKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *RedisKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

// RedisStream implements Stream over the same redis.Client using XADD/
// XREADGROUP/XACK, with MKSTREAM group creation per spec.md §6.
type RedisStream struct {
	client *redis.Client
}

func NewRedisStream(client *redis.Client) *RedisStream {
	return &RedisStream{client: client}
}

func (r *RedisStream) EnsureGroup(ctx context.Context, stream, group, start string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && isBusyGroupErr(err) {
		return nil
	}
	return err
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP")
}

func (r *RedisStream) Add(ctx context.Context, stream string, payload string, approxMaxLen int64) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"payload": payload},
	}
	if approxMaxLen > 0 {
		args.MaxLen = approxMaxLen
		args.Approx = true
	}
	return r.client.XAdd(ctx, args).Err()
}

func (r *RedisStream) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration) ([]StreamMessage, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    32,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			payload, _ := msg.Values["payload"].(string)
			out = append(out, StreamMessage{ID: msg.ID, Payload: payload})
		}
	}
	return out, nil
}

func (r *RedisStream) Ack(ctx context.Context, stream, group, id string) error {
	return r.client.XAck(ctx, stream, group, id).Err()
}
