// Package configbus is the pub/sub fan-out for configuration reloads. A
// single Redis channel, middleware:config:updated, carries best-effort
// "config changed" notices; every replica subscribes and re-reads the
// full configuration map rather than trusting the payload.
package configbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const channel = "middleware:config:updated"

// Notice is the best-effort payload published on a configuration change.
// Subscribers must not trust it as the source of truth; they re-read the
// full map on receipt (spec.md §4.7, §9 "pub/sub reliability").
type Notice struct {
	Changed []string `json:"changed"`
	TS      int64    `json:"ts"`
}

// Bus wraps a Redis client for a single channel.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
}

// New dials Redis from a connection URL, grounded on the same
// ParseURL-then-NewClient construction used for QuotaStore.
func New(url string, logger *slog.Logger) (*Bus, error) {
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
		logger.Error("failed to connect to Redis for config bus", "error", err)
		return nil, err
	}

	return &Bus{client: client, logger: logger}, nil
}

// Publish broadcasts a Notice. Publish failures are non-fatal to the
// caller; config changes are always persisted to AuditStore first, so a
// lost notice self-heals on the next TTL-bounded read.
func (b *Bus) Publish(ctx context.Context, changed []string, ts int64) error {
	payload, err := json.Marshal(Notice{Changed: changed, TS: ts})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe starts a goroutine that invokes onReload for every message
// received on the channel, until ctx is canceled. Malformed payloads are
// ignored; the whole point of the subscriber is to re-read state, not to
// trust the message body.
func (b *Bus) Subscribe(ctx context.Context, onReload func(Notice)) {
	sub := b.client.Subscribe(ctx, channel)
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var notice Notice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					b.logger.Warn("discarding malformed config bus message", "error", err)
					continue
				}
				onReload(notice)
			}
		}
	}()
}

// Close releases the underlying Redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}
