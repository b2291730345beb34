package audit

import (
	"context"
	"testing"
)

func TestDefaultPolicyCannotBeDeleted(t *testing.T) {
	m := NewMemoryStore()
	ok, err := m.DeletePolicy(context.Background(), DefaultPolicyID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected deleting default policy to be a no-op")
	}
	p, found, _ := m.GetPolicy(context.Background(), DefaultPolicyID)
	if !found || p.ID != DefaultPolicyID {
		t.Fatal("default policy should still exist")
	}
}

func TestUpsertPolicyIsUpsert(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.UpsertPolicy(ctx, Policy{ID: "p1", Name: "one", DailyTokenLimit: 100}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertPolicy(ctx, Policy{ID: "p1", Name: "one-updated", DailyTokenLimit: 200}); err != nil {
		t.Fatal(err)
	}
	p, found, _ := m.GetPolicy(ctx, "p1")
	if !found || p.Name != "one-updated" || p.DailyTokenLimit != 200 {
		t.Fatalf("expected upsert to update in place, got %+v", p)
	}
}

func TestEnsureUserIsInsertIfAbsent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.EnsureUser(ctx, "a@x.com")
	isActive := false
	m.PatchUser(ctx, "a@x.com", &isActive, nil)
	m.EnsureUser(ctx, "a@x.com")

	u, _, _ := m.GetUser(ctx, "a@x.com")
	if u.IsActive {
		t.Fatal("EnsureUser should not overwrite an existing user")
	}
}

func TestGroupPoliciesOrderedByPriorityThenName(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.UpsertGroupPolicy(ctx, GroupPolicy{GroupName: "zeta", PolicyID: "p1", Priority: 5})
	m.UpsertGroupPolicy(ctx, GroupPolicy{GroupName: "alpha", PolicyID: "p2", Priority: 5})
	m.UpsertGroupPolicy(ctx, GroupPolicy{GroupName: "beta", PolicyID: "p3", Priority: 10})

	list, err := m.ListGroupPolicies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].GroupName != "beta" || list[1].GroupName != "alpha" || list[2].GroupName != "zeta" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestPercentileOnSmallSet(t *testing.T) {
	vals := []float64{10, 20, 30, 40, 50}
	if p := percentile(vals, 0.5); p != 30 {
		t.Fatalf("expected median 30, got %v", p)
	}
}
