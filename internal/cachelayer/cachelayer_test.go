package cachelayer

import (
	"testing"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
)

func TestUserCacheRoundTrip(t *testing.T) {
	c := New()
	if _, ok := c.GetUser("a@x.com"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.PutUser("a@x.com", audit.User{ID: "a@x.com", IsActive: true, PolicyID: "default"})
	u, ok := c.GetUser("a@x.com")
	if !ok || u.PolicyID != "default" {
		t.Fatalf("expected cached user, got %+v (ok=%v)", u, ok)
	}
}

func TestInvalidateUserRemovesEntry(t *testing.T) {
	c := New()
	c.PutUser("a@x.com", audit.User{ID: "a@x.com"})
	c.InvalidateUser("a@x.com")
	if _, ok := c.GetUser("a@x.com"); ok {
		t.Fatal("expected miss after invalidation")
	}
}

func TestGroupsAndPolicyCaches(t *testing.T) {
	c := New()
	c.PutGroups("a@x.com", []string{"eng", "staff"})
	groups, ok := c.GetGroups("a@x.com")
	if !ok || len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %v (ok=%v)", groups, ok)
	}

	c.PutPolicy("default", audit.Policy{ID: "default", DailyTokenLimit: -1})
	p, ok := c.GetPolicy("default")
	if !ok || p.DailyTokenLimit != -1 {
		t.Fatalf("expected default policy, got %+v (ok=%v)", p, ok)
	}
}
