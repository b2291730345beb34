// Package admin implements the AdminSurface: the control-plane HTTP API
// for policies, users, group policies, usage, stats, performance, health,
// configuration, and system logs (spec.md §4.6). Every route in this
// package is gated by server.AdminKeyMiddleware at mount time.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/cachelayer"
	"github.com/tjfontaine/openwebui-gateway/internal/configbus"
	"github.com/tjfontaine/openwebui-gateway/internal/configstore"
	"github.com/tjfontaine/openwebui-gateway/internal/metrics"
	"github.com/tjfontaine/openwebui-gateway/internal/quotastore"
	"github.com/tjfontaine/openwebui-gateway/internal/systemlog"
)

// AuditStore is the subset of audit.Store the admin surface reads and
// writes.
type AuditStore interface {
	UpsertPolicy(ctx context.Context, p audit.Policy) error
	DeletePolicy(ctx context.Context, id string) (bool, error)
	GetPolicy(ctx context.Context, id string) (audit.Policy, bool, error)
	ListPolicies(ctx context.Context) ([]audit.Policy, error)

	ListUsers(ctx context.Context) ([]audit.User, error)
	PatchUser(ctx context.Context, id string, isActive *bool, policyID *string) error

	UpsertGroupPolicy(ctx context.Context, gp audit.GroupPolicy) error
	DeleteGroupPolicy(ctx context.Context, groupName string) (bool, error)
	ListGroupPolicies(ctx context.Context) ([]audit.GroupPolicy, error)

	RecentUsage(ctx context.Context, limit int) ([]audit.UsageLog, error)
	Stats(ctx context.Context) (audit.Stats, error)
	Performance(ctx context.Context) (audit.Performance, error)

	Health(ctx context.Context) error
}

// GroupReader exposes the external webui group catalogue.
type GroupReader interface {
	AllGroups(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
}

// Surface wires the AdminSurface's dependencies and routes.
type Surface struct {
	audit  AuditStore
	groups GroupReader
	quota  quotastore.Store
	config *configstore.Store
	bus    *configbus.Bus
	logs   *systemlog.Log
	cache  *cachelayer.Cache

	router *chi.Mux
}

// New constructs the admin router. Mount it behind AdminKeyMiddleware.
func New(auditStore AuditStore, groups GroupReader, quota quotastore.Store, config *configstore.Store, bus *configbus.Bus, logs *systemlog.Log, cache *cachelayer.Cache) *Surface {
	s := &Surface{audit: auditStore, groups: groups, quota: quota, config: config, bus: bus, logs: logs, cache: cache}
	s.routes()
	return s
}

func (s *Surface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Surface) routes() {
	r := chi.NewRouter()

	r.Route("/policies", func(r chi.Router) {
		r.Get("/", s.handleListPolicies)
		r.Post("/", s.handleUpsertPolicy)
		r.Delete("/{id}", s.handleDeletePolicy)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Patch("/{id}", s.handlePatchUser)
	})

	r.Route("/group-policies", func(r chi.Router) {
		r.Get("/", s.handleListGroupPolicies)
		r.Post("/", s.handleUpsertGroupPolicy)
		r.Delete("/{name}", s.handleDeleteGroupPolicy)
	})

	r.Get("/openwebui-groups", s.handleOpenWebUIGroups)
	r.Get("/usage", s.handleUsage)
	r.Get("/stats", s.handleStats)
	r.Get("/performance", s.handlePerformance)
	r.Get("/health", s.handleHealth)
	r.Get("/system-logs", s.handleSystemLogs)

	r.Get("/config", s.handleGetConfig)
	r.Post("/config", s.handlePostConfig)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.NewRegistry(), promhttp.HandlerOpts{}))

	s.router = r
}

func (s *Surface) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.audit.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Surface) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID                string `json:"id"`
		Name              string `json:"name"`
		DailyTokenLimit   int64  `json:"daily_token_limit"`
		MonthlyTokenLimit int64  `json:"monthly_token_limit"`
		AllowedModels     string `json:"allowed_models"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, errPolicyIDRequired)
		return
	}

	policy := audit.Policy{
		ID: body.ID, Name: body.Name,
		DailyTokenLimit: body.DailyTokenLimit, MonthlyTokenLimit: body.MonthlyTokenLimit,
		AllowedModels: body.AllowedModels,
	}
	if err := s.audit.UpsertPolicy(r.Context(), policy); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.cache.InvalidatePolicy(policy.ID)
	writeJSON(w, http.StatusOK, policy)
}

func (s *Surface) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == audit.DefaultPolicyID {
		writeJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}
	deleted, err := s.audit.DeletePolicy(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, errPolicyNotFound)
		return
	}
	s.cache.InvalidatePolicy(id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Surface) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.audit.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Surface) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		IsActive *bool   `json:"is_active"`
		PolicyID *string `json:"policy_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.audit.PatchUser(r.Context(), id, body.IsActive, body.PolicyID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.cache.InvalidateUser(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Surface) handleListGroupPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.audit.ListGroupPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Surface) handleUpsertGroupPolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupName string `json:"group_name"`
		PolicyID  string `json:"policy_id"`
		Priority  int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.GroupName == "" {
		writeError(w, http.StatusBadRequest, errGroupNameRequired)
		return
	}
	gp := audit.GroupPolicy{GroupName: body.GroupName, PolicyID: body.PolicyID, Priority: body.Priority}
	if err := s.audit.UpsertGroupPolicy(r.Context(), gp); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, gp)
}

func (s *Surface) handleDeleteGroupPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := s.audit.DeleteGroupPolicy(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, errGroupPolicyNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Surface) handleOpenWebUIGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.AllGroups(r.Context())
	if err != nil {
		// The external webui datastore is best-effort: surface an empty
		// list rather than failing the admin call outright.
		s.logs.Warn("openwebui group lookup failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Surface) handleUsage(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	usage, err := s.audit.RecentUsage(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Surface) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Surface) handlePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.audit.Performance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

// healthReport is the GET /admin/health payload: each dependency reports
// independently so a single down component doesn't mask the others.
type healthReport struct {
	Audit   string `json:"audit"`
	WebUI   string `json:"webui"`
	Quota   string `json:"quota"`
	Healthy bool   `json:"healthy"`
}

func (s *Surface) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := healthReport{Audit: "ok", WebUI: "ok", Quota: "ok", Healthy: true}

	if err := s.audit.Health(ctx); err != nil {
		report.Audit = err.Error()
		report.Healthy = false
	}
	if err := s.groups.Health(ctx); err != nil {
		report.WebUI = err.Error()
		report.Healthy = false
	}
	if err := s.quota.Ping(ctx); err != nil {
		report.Quota = err.Error()
		report.Healthy = false
	}

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Surface) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.logs.Recent(limit))
}

func (s *Surface) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"config":       s.config.Masked(),
		"last_updated": s.config.LastUpdated(),
	})
}

func (s *Surface) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Config map[string]string `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	changed, err := s.config.Update(r.Context(), body.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if len(changed) > 0 && s.bus != nil {
		if err := s.bus.Publish(r.Context(), changed, time.Now().Unix()); err != nil {
			s.logs.Warn("config bus publish failed", map[string]any{"error": err.Error()})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"changed":      changed,
		"config":       s.config.Masked(),
		"last_updated": s.config.LastUpdated(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
