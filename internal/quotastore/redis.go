package quotastore

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production QuotaStore, a thin wrapper over a
// *redis.Client grounded on the ipiton-alert-history-service cache client:
// ParseURL construction and a ping at dial time, logged when it fails.
// Errors from the other methods are returned to the caller, not logged here.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore dials Redis from a connection URL (REDIS_URL, spec.md §4.7).
func NewRedisStore(url string, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis for quota store", "error", err)
		return nil, err
	}

	return &RedisStore{client: client, logger: logger}, nil
}

func (r *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *RedisStore) MGet(ctx context.Context, keys ...string) ([]int64, error) {
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out, nil
}

func (r *RedisStore) LPush(ctx context.Context, list string, payload []byte) error {
	return r.client.LPush(ctx, list, payload).Err()
}

func (r *RedisStore) RPopN(ctx context.Context, list string, n int) ([][]byte, error) {
	var out [][]byte
	for i := 0; i < n; i++ {
		val, err := r.client.RPop(ctx, list).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, val)
	}
	return out, nil
}

func (r *RedisStore) LLen(ctx context.Context, list string) (int64, error) {
	return r.client.LLen(ctx, list).Result()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
