package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/cachelayer"
	"github.com/tjfontaine/openwebui-gateway/internal/configstore"
	"github.com/tjfontaine/openwebui-gateway/internal/quotastore"
	"github.com/tjfontaine/openwebui-gateway/internal/systemlog"
	"github.com/tjfontaine/openwebui-gateway/internal/webuidb"
)

type fakeConfigAudit struct{ rows map[string]configstore.Row }

func (f *fakeConfigAudit) GetAllConfig(ctx context.Context) (map[string]configstore.Row, error) {
	return f.rows, nil
}
func (f *fakeConfigAudit) EnsureConfig(ctx context.Context, key, value string) error {
	if _, ok := f.rows[key]; !ok {
		f.rows[key] = configstore.Row{Key: key, Value: value}
	}
	return nil
}
func (f *fakeConfigAudit) UpsertConfig(ctx context.Context, key, value string) error {
	f.rows[key] = configstore.Row{Key: key, Value: value}
	return nil
}

func newTestSurface(t *testing.T) (*Surface, *audit.MemoryStore) {
	t.Helper()
	required := map[string]string{
		configstore.KeyOpenRouterAPIKey:  "sk-or-1234567890",
		configstore.KeyAdminAPIKey:       "admin-secret-key",
		configstore.KeyOpenRouterReferer: "https://example.com",
		configstore.KeyOpenRouterTitle:   "Example",
		configstore.KeyLogMode:           "metadata",
		configstore.KeyRedisURL:          "redis://localhost:6379",
		configstore.KeyDatabaseURL:       "postgres://localhost/audit",
		configstore.KeyWebUIDatabaseURL:  "postgres://localhost/webui",
	}
	for k, v := range required {
		os.Setenv(k, v)
	}
	t.Cleanup(func() {
		for k := range required {
			os.Unsetenv(k)
		}
	})

	cfg := configstore.New(&fakeConfigAudit{rows: map[string]configstore.Row{}})
	if err := cfg.Boot(context.Background()); err != nil {
		t.Fatalf("boot: %v", err)
	}

	a := audit.NewMemoryStore()
	groups := webuidb.NewMemoryReader()
	q := quotastore.NewMemoryStore()
	logs := systemlog.New(slog.Default())
	cache := cachelayer.New()

	return New(a, groups, q, cfg, nil, logs, cache), a
}

func TestListPoliciesIncludesSeededDefault(t *testing.T) {
	s, _ := newTestSurface(t)

	req := httptest.NewRequest(http.MethodGet, "/policies/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var policies []audit.Policy
	if err := json.Unmarshal(rec.Body.Bytes(), &policies); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range policies {
		if p.ID == audit.DefaultPolicyID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected seeded default policy in list, got %+v", policies)
	}
}

func TestDeleteDefaultPolicyRejected(t *testing.T) {
	s, a := newTestSurface(t)
	a.UpsertPolicy(context.Background(), audit.Policy{ID: audit.DefaultPolicyID, Name: "default"})

	req := httptest.NewRequest(http.MethodDelete, "/policies/default", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["success"] {
		t.Fatalf("expected success:false, got %v", resp)
	}
}

func TestUpsertAndDeletePolicy(t *testing.T) {
	s, _ := newTestSurface(t)

	body := strings.NewReader(`{"id":"gold","name":"gold","daily_token_limit":1000,"monthly_token_limit":20000,"allowed_models":"*"}`)
	req := httptest.NewRequest(http.MethodPost, "/policies/", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	del := httptest.NewRequest(http.MethodDelete, "/policies/gold", nil)
	delRec := httptest.NewRecorder()
	s.ServeHTTP(delRec, del)
	if delRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", delRec.Code)
	}
	var delResp map[string]bool
	if err := json.Unmarshal(delRec.Body.Bytes(), &delResp); err != nil {
		t.Fatal(err)
	}
	if !delResp["success"] {
		t.Fatalf("expected success:true, got %v", delResp)
	}
}

func TestPatchUserUpdatesPolicyAssignment(t *testing.T) {
	s, a := newTestSurface(t)
	a.EnsureUser(context.Background(), "a@x.com")

	body := strings.NewReader(`{"policy_id":"gold"}`)
	req := httptest.NewRequest(http.MethodPatch, "/users/a@x.com", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	user, found, err := a.GetUser(context.Background(), "a@x.com")
	if err != nil || !found {
		t.Fatalf("expected user found, err=%v found=%v", err, found)
	}
	if user.PolicyID != "gold" {
		t.Fatalf("expected policy_id gold, got %q", user.PolicyID)
	}
}

func TestHealthReportsEachDependency(t *testing.T) {
	s, _ := newTestSurface(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Audit != "ok" || report.WebUI != "ok" || report.Quota != "ok" || !report.Healthy {
		t.Fatalf("expected every dependency to report ok, got %+v", report)
	}
}

func TestConfigRoundTripMasksSensitiveKeys(t *testing.T) {
	s, _ := newTestSurface(t)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "********") {
		t.Fatalf("expected masked admin key in response: %s", rec.Body.String())
	}
}

func TestMetricsExposesPrometheusFormat(t *testing.T) {
	s, _ := newTestSurface(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gateway_config_reloads_total") {
		t.Fatalf("expected gateway_config_reloads_total in exposition, got: %s", rec.Body.String())
	}
}

func TestPostConfigRejectsBlankRequiredKey(t *testing.T) {
	s, _ := newTestSurface(t)

	body := strings.NewReader(`{"config":{"OPENROUTER_API_KEY":""}}`)
	req := httptest.NewRequest(http.MethodPost, "/config", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPostConfigReturnsSuccessAndChangedKeys(t *testing.T) {
	s, _ := newTestSurface(t)

	body := strings.NewReader(`{"config":{"LOG_MODE":"off"}}`)
	req := httptest.NewRequest(http.MethodPost, "/config", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool     `json:"success"`
		Changed []string `json:"changed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("expected success:true, got %v", resp)
	}
	if len(resp.Changed) != 1 || resp.Changed[0] != "LOG_MODE" {
		t.Fatalf("expected changed:[LOG_MODE], got %v", resp.Changed)
	}
}

func TestUpsertGroupPolicyByName(t *testing.T) {
	s, _ := newTestSurface(t)

	body := strings.NewReader(`{"group_name":"engineering","policy_id":"default","priority":10}`)
	req := httptest.NewRequest(http.MethodPost, "/group-policies/", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	del := httptest.NewRequest(http.MethodDelete, "/group-policies/engineering", nil)
	delRec := httptest.NewRecorder()
	s.ServeHTTP(delRec, del)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delRec.Code)
	}
}
