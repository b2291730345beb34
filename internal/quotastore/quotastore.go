// Package quotastore is the hot-path key/value store for usage counters
// and the durable list queues that decouple request handling from
// AuditStore latency. The production implementation is Redis; an
// in-memory Store is provided for tests.
package quotastore

import (
	"context"
	"time"
)

// counterTTL is the minimum TTL applied to daily/monthly counters
// (40 days, spec.md §3).
const counterTTL = 40 * 24 * time.Hour

// Store is the QuotaStore contract: atomic increment, TTL, multi-get, and
// list push/pop for durable queues.
type Store interface {
	// IncrBy atomically increments key by delta and returns the new value.
	// RedisStore resets the key's TTL to counterTTL on every call;
	// MemoryStore keeps no TTL.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// MGet returns the integer value of each key, 0 for keys that don't exist.
	MGet(ctx context.Context, keys ...string) ([]int64, error)

	// LPush durably enqueues payload onto the named list (left-push).
	LPush(ctx context.Context, list string, payload []byte) error

	// RPopN pops up to n items from the right of the named list (FIFO with
	// LPush), returning fewer than n if the list is shorter.
	RPopN(ctx context.Context, list string, n int) ([][]byte, error)

	// LLen returns the current length of the named list, used by the
	// drain workers to publish the queue-depth metric.
	LLen(ctx context.Context, list string) (int64, error)

	// Ping verifies connectivity for the health endpoint.
	Ping(ctx context.Context) error

	Close() error
}

// Daily and monthly counter keys per spec.md §3.
func DailyCounterKey(userID string, day time.Time) string {
	return "usage:user:" + userID + ":daily:" + day.Format("2006-01-02")
}

func MonthlyCounterKey(userID string, month time.Time) string {
	return "usage:user:" + userID + ":monthly:" + month.Format("2006-01")
}

// List names for the durable drain queues (spec.md §6).
const (
	UsageQueue       = "usage_queue"
	RequestPerfQueue = "request_perf_queue"
)
