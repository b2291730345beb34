package gatewayapp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/configbus"
	"github.com/tjfontaine/openwebui-gateway/internal/configstore"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vals := map[string]string{
		configstore.KeyOpenRouterAPIKey:  "sk-or-1234567890",
		configstore.KeyAdminAPIKey:       "admin-secret-key",
		configstore.KeyOpenRouterReferer: "https://example.com",
		configstore.KeyOpenRouterTitle:   "Example",
		configstore.KeyLogMode:           "metadata",
		configstore.KeyRedisURL:          "redis://localhost:6379",
		configstore.KeyDatabaseURL:       "postgres://localhost/audit",
		configstore.KeyWebUIDatabaseURL:  "postgres://localhost/webui",
	}
	for k, v := range vals {
		os.Setenv(k, v)
	}
	t.Cleanup(func() {
		for k := range vals {
			os.Unsetenv(k)
		}
	})
}

func TestStartAndShutdownWithInMemoryDependencies(t *testing.T) {
	setRequiredEnv(t)

	gw, err := New(
		WithPort(0),
		WithDrainWorkers(1),
		WithAuditStore(audit.NewMemoryStore()),
		WithConfigBusFactory(func(ctx context.Context) (*configbus.Bus, error) { return nil, nil }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := gw.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
