package cache

import (
	"context"
	"time"
)

// HashIncrement is one field bump inside a batched increment. Batches
// covering many keys must execute in a single round trip.
type HashIncrement struct {
	Key   string
	Field string
	Delta int64
}

// KV is the low-level key-value port the coordinator runs on. It maps
// 1:1 onto the redis command families the chat core uses; an in-memory
// implementation backs the tests.
//
// Get-style methods report a miss with ok=false and a nil error. A
// non-nil error means the backend itself failed; callers treat that the
// same as a miss, never as a correctness signal.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	// HIncrBy must be atomic on the backend, never read-modify-write.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	// HIncrByBatch applies all increments in one pipelined round trip.
	HIncrByBatch(ctx context.Context, incrs []HashIncrement) error

	// ScanDelete removes keys matching pattern using incremental scans,
	// batchSize keys at a time, without blocking the backend.
	ScanDelete(ctx context.Context, pattern string, batchSize int64) error
	// ScanKeys returns keys matching pattern.
	ScanKeys(ctx context.Context, pattern string, batchSize int64) ([]string, error)

	// Publish emits a fire-and-forget message on a pub/sub topic.
	Publish(ctx context.Context, topic, payload string) error
}
