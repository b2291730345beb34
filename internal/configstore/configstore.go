// Package configstore implements the runtime configuration plane: boot
// loading from the process environment, durable persistence in the
// system_config table, validation, and the masking rule applied at
// GET /admin/config.
package configstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/openwebui-gateway/internal/gatewayerrors"
	"github.com/tjfontaine/openwebui-gateway/internal/metrics"
)

// Recognized configuration keys. Any other key on POST /admin/config is
// ignored per spec.md §4.7.
const (
	KeyOpenRouterAPIKey  = "OPENROUTER_API_KEY"
	KeyAdminAPIKey       = "ADMIN_API_KEY"
	KeyOpenRouterReferer = "OPENROUTER_HTTP_REFERER"
	KeyOpenRouterTitle   = "OPENROUTER_X_TITLE"
	KeyLogMode           = "LOG_MODE"
	KeyRedisURL          = "REDIS_URL"
	KeyDatabaseURL       = "DATABASE_URL"
	KeyWebUIDatabaseURL  = "WEBUI_DATABASE_URL"
)

// recognizedKeys lists every key the configuration plane understands, in
// the fixed order they're reported in validation errors.
var recognizedKeys = []string{
	KeyOpenRouterAPIKey,
	KeyAdminAPIKey,
	KeyOpenRouterReferer,
	KeyOpenRouterTitle,
	KeyLogMode,
	KeyRedisURL,
	KeyDatabaseURL,
	KeyWebUIDatabaseURL,
}

// All required keys fail fast with no built-in default per spec.md §4.7.
func isRecognized(key string) bool {
	for _, k := range recognizedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Row mirrors one system_config table row.
type Row struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// AuditStore is the subset of internal/audit's store that configstore
// needs to persist and reload SystemConfig rows.
type AuditStore interface {
	GetAllConfig(ctx context.Context) (map[string]Row, error)
	EnsureConfig(ctx context.Context, key, value string) error
	UpsertConfig(ctx context.Context, key, value string) error
}

// Store holds the in-memory snapshot of effective configuration, reloaded
// at boot and on every local or pub/sub-triggered update.
type Store struct {
	mu      sync.RWMutex
	values  map[string]string
	updated time.Time
	audit   AuditStore
}

// New constructs a Store bound to the given AuditStore. Call Boot before
// using it to serve requests.
func New(audit AuditStore) *Store {
	return &Store{values: make(map[string]string), audit: audit}
}

// Boot performs the §4.7 boot sequence: validate the process environment,
// ensure SystemConfig rows exist (insert-if-absent from environment), load
// all keys from SystemConfig, and validate the merged map.
func (s *Store) Boot(ctx context.Context) error {
	fromEnv := make(map[string]string)
	for _, key := range recognizedKeys {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			fromEnv[key] = v
		}
	}
	if missing := missingRequired(fromEnv); len(missing) > 0 {
		return gatewayerrors.ConfigMissing("Missing required config: " + strings.Join(missing, ", "))
	}

	for key, value := range fromEnv {
		if err := s.audit.EnsureConfig(ctx, key, value); err != nil {
			return fmt.Errorf("ensure config row %s: %w", key, err)
		}
	}

	return s.Reload(ctx)
}

// Reload re-reads the full configuration map from AuditStore, validates it,
// and replaces the in-memory snapshot. Used at boot and whenever a
// ConfigBus notification is received.
func (s *Store) Reload(ctx context.Context) error {
	rows, err := s.audit.GetAllConfig(ctx)
	if err != nil {
		return fmt.Errorf("load system_config: %w", err)
	}

	merged := make(map[string]string, len(rows))
	var latest time.Time
	for key, row := range rows {
		merged[key] = row.Value
		if row.UpdatedAt.After(latest) {
			latest = row.UpdatedAt
		}
	}

	if missing := missingRequired(merged); len(missing) > 0 {
		return gatewayerrors.ConfigMissing("Missing required config: " + strings.Join(missing, ", "))
	}

	s.mu.Lock()
	s.values = merged
	s.updated = latest
	s.mu.Unlock()
	metrics.ConfigReloadsTotal.Inc()
	return nil
}

// missingRequired returns the recognized keys absent or blank in merged,
// in canonical order.
func missingRequired(merged map[string]string) []string {
	var missing []string
	for _, key := range recognizedKeys {
		if strings.TrimSpace(merged[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Get returns the effective value for key and whether it is set.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns a copy of the full effective configuration map.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// LastUpdated returns the most recent updated_at across all rows observed
// at the last Reload.
func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Masked returns the snapshot with any key containing KEY, PASSWORD, or
// SECRET rendered per the spec.md §4.7 masking rule.
func (s *Store) Masked() map[string]string {
	snap := s.Snapshot()
	out := make(map[string]string, len(snap))
	for k, v := range snap {
		if isSensitive(k) {
			out[k] = mask(v)
		} else {
			out[k] = v
		}
	}
	return out
}

func isSensitive(key string) bool {
	upper := strings.ToUpper(key)
	return strings.Contains(upper, "KEY") || strings.Contains(upper, "PASSWORD") || strings.Contains(upper, "SECRET")
}

// mask renders value as first4+8 stars+last4, or all stars if len <= 8.
func mask(value string) string {
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "********" + value[len(value)-4:]
}

// Update implements the POST /admin/config sequence: merge recognized keys
// into the current map, validate, persist changed rows, reload locally,
// and return the sorted list of changed keys for the caller to publish on
// ConfigBus.
func (s *Store) Update(ctx context.Context, changes map[string]string) ([]string, error) {
	current, err := s.audit.GetAllConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load system_config: %w", err)
	}

	merged := make(map[string]string, len(current))
	for key, row := range current {
		merged[key] = row.Value
	}

	var changed []string
	for key, value := range changes {
		if !isRecognized(key) {
			continue
		}
		if merged[key] != value {
			changed = append(changed, key)
		}
		merged[key] = value
	}

	if missing := missingRequired(merged); len(missing) > 0 {
		return nil, gatewayerrors.BadRequest("Missing required config: " + strings.Join(missing, ", "))
	}

	sort.Strings(changed)
	for _, key := range changed {
		if err := s.audit.UpsertConfig(ctx, key, merged[key]); err != nil {
			return nil, fmt.Errorf("persist config row %s: %w", key, err)
		}
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return changed, nil
}
