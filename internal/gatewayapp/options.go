package gatewayapp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/configbus"
	"github.com/tjfontaine/openwebui-gateway/internal/webuidb"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithPort overrides the default HTTP listen port.
func WithPort(port int) Option {
	return func(g *Gateway) error {
		g.port = port
		return nil
	}
}

// WithDrainWorkers sets how many background UsagePipeline drain loops run.
// Defaults to 4.
func WithDrainWorkers(n int) Option {
	return func(g *Gateway) error {
		g.drainWorkers = n
		return nil
	}
}

// WithAuditDSN connects the audit store to a Postgres DSN at Start time.
func WithAuditDSN(dsn string) Option {
	return func(g *Gateway) error {
		g.auditDSN = dsn
		return nil
	}
}

// WithWebUIDSN connects the read-only webui datastore at Start time. If
// unset, group lookups always report empty membership.
func WithWebUIDSN(dsn string) Option {
	return func(g *Gateway) error {
		g.webuiDSN = dsn
		return nil
	}
}

// WithRedisURL connects QuotaStore and ConfigBus to Redis at Start time.
func WithRedisURL(url string) Option {
	return func(g *Gateway) error {
		g.redisURL = url
		return nil
	}
}

// WithAuditStore injects a pre-built audit store, overriding WithAuditDSN.
// Used by tests to substitute audit.MemoryStore.
func WithAuditStore(store *audit.MemoryStore) Option {
	return func(g *Gateway) error {
		g.auditOverride = store
		return nil
	}
}

// WithWebUIReader injects a pre-built group reader, overriding WithWebUIDSN.
func WithWebUIReader(reader webuidb.Reader) Option {
	return func(g *Gateway) error {
		g.webuiOverride = reader
		return nil
	}
}

// WithConfigBusFactory overrides how the Gateway constructs its ConfigBus,
// for tests that don't have a Redis instance available.
func WithConfigBusFactory(factory func(ctx context.Context) (*configbus.Bus, error)) Option {
	return func(g *Gateway) error {
		if factory == nil {
			return fmt.Errorf("configbus factory must not be nil")
		}
		g.busFactory = factory
		return nil
	}
}
