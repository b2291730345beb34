// Package gatewayapp wires every component of the gateway — ConfigStore,
// ConfigBus, QuotaStore, AuditStore, the external webui group reader,
// CacheLayer, PolicyEngine, ProxyPipeline, UsagePipeline, and
// AdminSurface — into one running HTTP server with a start/shutdown
// lifecycle.
package gatewayapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/openwebui-gateway/internal/admin"
	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/cachelayer"
	"github.com/tjfontaine/openwebui-gateway/internal/configbus"
	"github.com/tjfontaine/openwebui-gateway/internal/configstore"
	"github.com/tjfontaine/openwebui-gateway/internal/policyengine"
	"github.com/tjfontaine/openwebui-gateway/internal/proxy"
	"github.com/tjfontaine/openwebui-gateway/internal/quotastore"
	"github.com/tjfontaine/openwebui-gateway/internal/server"
	"github.com/tjfontaine/openwebui-gateway/internal/systemlog"
	"github.com/tjfontaine/openwebui-gateway/internal/usagepipeline"
	"github.com/tjfontaine/openwebui-gateway/internal/webuidb"
)

// auditStore is the union of the audit methods every component needs;
// both audit.Store (Postgres) and audit.MemoryStore satisfy it.
type auditStore interface {
	configstore.AuditStore
	proxy.AuditStore
	admin.AuditStore
	policyengine.AuditStore
	usagepipeline.AuditStore
}

// Gateway is the top-level application: the HTTP server plus every
// dependency it composes.
type Gateway struct {
	logger       *slog.Logger
	port         int
	drainWorkers int

	auditDSN string
	webuiDSN string
	redisURL string

	auditOverride *audit.MemoryStore
	webuiOverride webuidb.Reader
	busFactory    func(ctx context.Context) (*configbus.Bus, error)

	config  *configstore.Store
	bus     *configbus.Bus
	quota   quotastore.Store
	auditS  auditStore
	groups  webuidb.Reader
	cache   *cachelayer.Cache
	policy  *policyengine.Engine
	usage   *usagepipeline.Pipeline
	logs    *systemlog.Log
	httpSrv *server.Server

	mu      sync.Mutex
	closers []func()
}

// New constructs a Gateway with the given options applied. Call Start to
// bring up dependencies and begin serving.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger:       slog.Default(),
		port:         8080,
		drainWorkers: 4,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	return g, nil
}

// Start initializes every dependency in order and begins listening.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logs = systemlog.New(g.logger)

	if err := g.initAudit(ctx); err != nil {
		return fmt.Errorf("init audit store: %w", err)
	}
	if err := g.initWebUI(ctx); err != nil {
		return fmt.Errorf("init webui reader: %w", err)
	}
	if err := g.initQuota(); err != nil {
		return fmt.Errorf("init quota store: %w", err)
	}

	g.config = configstore.New(g.auditS)
	if err := g.config.Boot(ctx); err != nil {
		return fmt.Errorf("boot config: %w", err)
	}

	if err := g.initConfigBus(ctx); err != nil {
		return fmt.Errorf("init config bus: %w", err)
	}

	g.cache = cachelayer.New()
	g.policy = policyengine.New(g.auditS, g.groups, g.quota, g.cache, g.logs)
	g.usage = usagepipeline.New(g.quota, g.auditS, g.logs)
	g.usage.RunWorkers(ctx, g.drainWorkers)

	proxyPipeline := proxy.New(g.config, g.policy, g.auditS, g.usage, g.logs, nil)
	adminSurface := admin.New(g.auditS, g.groups, g.quota, g.config, g.bus, g.logs, g.cache)

	g.httpSrv = server.New(g.port, g.logger)
	g.httpSrv.Router.Handle("/v1/*", proxyPipeline)
	g.httpSrv.Router.Route("/admin", func(r chi.Router) {
		r.Use(server.AdminKeyMiddleware(func() string {
			key, _ := g.config.Get(configstore.KeyAdminAPIKey)
			return key
		}))
		r.Mount("/", adminSurface)
	})

	go func() {
		if err := g.httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("http server exited", slog.String("error", err.Error()))
		}
	}()

	g.logger.Info("gateway started", slog.Int("port", g.port))
	return nil
}

// Shutdown releases every resource acquired at Start.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.httpSrv != nil {
		if err := g.httpSrv.Shutdown(ctx); err != nil {
			g.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
		}
	}

	if g.bus != nil {
		if err := g.bus.Close(); err != nil {
			g.logger.Error("close config bus failed", slog.String("error", err.Error()))
		}
	}
	for _, closer := range g.closers {
		closer()
	}

	g.logger.Info("gateway shutdown complete")
	return nil
}

func (g *Gateway) initAudit(ctx context.Context) error {
	if g.auditOverride != nil {
		g.auditS = g.auditOverride
		return nil
	}
	if g.auditDSN == "" {
		return fmt.Errorf("audit DSN required (use WithAuditDSN or WithAuditStore)")
	}
	store, err := audit.New(ctx, g.auditDSN, g.logger)
	if err != nil {
		return err
	}
	g.auditS = store
	g.closers = append(g.closers, store.Close)
	return nil
}

func (g *Gateway) initWebUI(ctx context.Context) error {
	if g.webuiOverride != nil {
		g.groups = g.webuiOverride
		return nil
	}
	if g.webuiDSN == "" {
		g.groups = webuidb.NewMemoryReader()
		return nil
	}
	client, err := webuidb.New(ctx, g.webuiDSN, g.logger)
	if err != nil {
		return err
	}
	g.groups = client
	g.closers = append(g.closers, client.Close)
	return nil
}

func (g *Gateway) initQuota() error {
	if g.redisURL == "" {
		g.quota = quotastore.NewMemoryStore()
		return nil
	}
	store, err := quotastore.NewRedisStore(g.redisURL, g.logger)
	if err != nil {
		return err
	}
	g.quota = store
	g.closers = append(g.closers, func() { store.Close() })
	return nil
}

func (g *Gateway) initConfigBus(ctx context.Context) error {
	if g.busFactory != nil {
		bus, err := g.busFactory(ctx)
		if err != nil {
			return err
		}
		g.bus = bus
		if bus != nil {
			g.wireConfigReload(ctx)
		}
		return nil
	}
	if g.redisURL == "" {
		return nil
	}
	bus, err := configbus.New(g.redisURL, g.logger)
	if err != nil {
		return err
	}
	g.bus = bus
	g.wireConfigReload(ctx)
	return nil
}

func (g *Gateway) wireConfigReload(ctx context.Context) {
	g.bus.Subscribe(ctx, func(notice configbus.Notice) {
		if err := g.config.Reload(ctx); err != nil {
			g.logger.Error("config reload after bus notice failed", slog.String("error", err.Error()))
		}
	})
}
