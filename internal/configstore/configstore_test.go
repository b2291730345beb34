package configstore

import (
	"context"
	"os"
	"testing"
	"time"
)

type fakeAudit struct {
	rows map[string]Row
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{rows: make(map[string]Row)}
}

func (f *fakeAudit) GetAllConfig(ctx context.Context) (map[string]Row, error) {
	out := make(map[string]Row, len(f.rows))
	for k, v := range f.rows {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAudit) EnsureConfig(ctx context.Context, key, value string) error {
	if _, exists := f.rows[key]; exists {
		return nil
	}
	f.rows[key] = Row{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func (f *fakeAudit) UpsertConfig(ctx context.Context, key, value string) error {
	f.rows[key] = Row{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func setAllRequiredEnv(t *testing.T) {
	t.Helper()
	vals := map[string]string{
		KeyOpenRouterAPIKey:  "sk-or-1234567890",
		KeyAdminAPIKey:       "admin-secret-key",
		KeyOpenRouterReferer: "https://example.com",
		KeyOpenRouterTitle:   "Example",
		KeyLogMode:           "metadata",
		KeyRedisURL:          "redis://localhost:6379",
		KeyDatabaseURL:       "postgres://localhost/audit",
		KeyWebUIDatabaseURL:  "postgres://localhost/webui",
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

func TestBootFailsFastOnMissingRequiredConfig(t *testing.T) {
	audit := newFakeAudit()
	s := New(audit)
	if err := s.Boot(context.Background()); err == nil {
		t.Fatal("expected error for missing required config, got nil")
	}
}

func TestBootSucceedsAndSnapshotsEnv(t *testing.T) {
	setAllRequiredEnv(t)
	audit := newFakeAudit()
	s := New(audit)
	if err := s.Boot(context.Background()); err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}
	v, ok := s.Get(KeyLogMode)
	if !ok || v != "metadata" {
		t.Fatalf("expected LOG_MODE=metadata, got %q (ok=%v)", v, ok)
	}
}

func TestMaskingRule(t *testing.T) {
	cases := []struct {
		value string
		want  string
	}{
		{"short", "********"},
		{"12345678", "********"},
		{"sk-or-1234567890", "sk-o********7890"},
	}
	for _, tc := range cases {
		if got := mask(tc.value); got != tc.want {
			t.Errorf("mask(%q) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestUpdateRejectsBlankRequiredKey(t *testing.T) {
	setAllRequiredEnv(t)
	audit := newFakeAudit()
	s := New(audit)
	if err := s.Boot(context.Background()); err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	_, err := s.Update(context.Background(), map[string]string{KeyOpenRouterAPIKey: ""})
	if err == nil {
		t.Fatal("expected error for blanked required key")
	}
}

func TestUpdateIgnoresUnrecognizedKeys(t *testing.T) {
	setAllRequiredEnv(t)
	audit := newFakeAudit()
	s := New(audit)
	if err := s.Boot(context.Background()); err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	changed, err := s.Update(context.Background(), map[string]string{"NOT_A_REAL_KEY": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no changed keys, got %v", changed)
	}
	if _, ok := s.Get("NOT_A_REAL_KEY"); ok {
		t.Fatal("unrecognized key should not be persisted")
	}
}

func TestUpdateReportsChangedKeys(t *testing.T) {
	setAllRequiredEnv(t)
	audit := newFakeAudit()
	s := New(audit)
	if err := s.Boot(context.Background()); err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	changed, err := s.Update(context.Background(), map[string]string{KeyLogMode: "off"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 1 || changed[0] != KeyLogMode {
		t.Fatalf("expected [%s], got %v", KeyLogMode, changed)
	}
	v, _ := s.Get(KeyLogMode)
	if v != "off" {
		t.Fatalf("expected LOG_MODE=off after update, got %q", v)
	}
}
