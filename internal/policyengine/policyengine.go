// Package policyengine resolves the effective policy for a user and
// evaluates quota admission, per spec.md §4.2.
package policyengine

import (
	"context"
	"sort"
	"time"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/cachelayer"
	"github.com/tjfontaine/openwebui-gateway/internal/gatewayerrors"
	"github.com/tjfontaine/openwebui-gateway/internal/quotastore"
	"github.com/tjfontaine/openwebui-gateway/internal/systemlog"
)

// AuditStore is the subset of audit.Store the PolicyEngine reads.
type AuditStore interface {
	GetUser(ctx context.Context, id string) (audit.User, bool, error)
	GetPolicy(ctx context.Context, id string) (audit.Policy, bool, error)
	ListGroupPolicies(ctx context.Context) ([]audit.GroupPolicy, error)
}

// GroupReader resolves a user's external group membership.
type GroupReader interface {
	GroupsFor(ctx context.Context, userID string) ([]string, error)
}

// Decision is the outcome of CheckAccess.
type Decision struct {
	Allowed bool
	Reason  string // human-readable denial reason, empty when Allowed
	Code    gatewayerrors.Kind
}

// Engine evaluates policy and quota decisions.
type Engine struct {
	audit  AuditStore
	groups GroupReader
	quota  quotastore.Store
	cache  *cachelayer.Cache
	logs   *systemlog.Log
}

func New(auditStore AuditStore, groups GroupReader, quota quotastore.Store, cache *cachelayer.Cache, logs *systemlog.Log) *Engine {
	return &Engine{audit: auditStore, groups: groups, quota: quota, cache: cache, logs: logs}
}

// ResolveEffectivePolicy returns the policy id that governs user, given
// their external groups. Direct assignment wins unless it's still
// "default", in which case the highest-priority matching GroupPolicy
// applies (ties broken by group_name lexicographic order).
func (e *Engine) ResolveEffectivePolicy(ctx context.Context, user audit.User, groups []string) (string, error) {
	if user.PolicyID != audit.DefaultPolicyID {
		return user.PolicyID, nil
	}

	groupPolicies, err := e.audit.ListGroupPolicies(ctx)
	if err != nil {
		return "", err
	}

	memberOf := make(map[string]bool, len(groups))
	for _, g := range groups {
		memberOf[g] = true
	}

	var candidates []audit.GroupPolicy
	for _, gp := range groupPolicies {
		if memberOf[gp.GroupName] {
			candidates = append(candidates, gp)
		}
	}
	if len(candidates) == 0 {
		return audit.DefaultPolicyID, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].GroupName < candidates[j].GroupName
	})
	return candidates[0].PolicyID, nil
}

// CheckAccess implements the §4.2 admission sequence: fetch user (via
// cache), fetch groups (tolerating failure as empty), resolve effective
// policy, read both counters atomically, and apply the daily/monthly
// limits.
func (e *Engine) CheckAccess(ctx context.Context, userID string) Decision {
	user, ok := e.cache.GetUser(userID)
	if !ok {
		fetched, found, err := e.audit.GetUser(ctx, userID)
		if err != nil || !found {
			return Decision{Allowed: false, Reason: "User account is inactive", Code: gatewayerrors.KindUserInactive}
		}
		user = fetched
		e.cache.PutUser(userID, user)
	}
	if !user.IsActive {
		return Decision{Allowed: false, Reason: "User account is inactive", Code: gatewayerrors.KindUserInactive}
	}

	groups, ok := e.cache.GetGroups(userID)
	if !ok {
		fetched, err := e.groups.GroupsFor(ctx, userID)
		if err != nil {
			e.logs.Warn("group lookup failed, treating as empty", map[string]any{"user_id": userID, "error": err.Error()})
			fetched = nil
		}
		groups = fetched
		e.cache.PutGroups(userID, groups)
	}

	policyID, err := e.ResolveEffectivePolicy(ctx, user, groups)
	if err != nil {
		e.logs.Warn("policy resolution failed", map[string]any{"user_id": userID, "error": err.Error()})
		return Decision{Allowed: false, Reason: "No policy found for user", Code: gatewayerrors.KindPolicyMissing}
	}

	policy, ok := e.cache.GetPolicy(policyID)
	if !ok {
		fetched, found, err := e.audit.GetPolicy(ctx, policyID)
		if err != nil || !found {
			return Decision{Allowed: false, Reason: "No policy found for user", Code: gatewayerrors.KindPolicyMissing}
		}
		policy = fetched
		e.cache.PutPolicy(policyID, policy)
	}

	now := time.Now()
	dailyKey := quotastore.DailyCounterKey(userID, now)
	monthlyKey := quotastore.MonthlyCounterKey(userID, now)
	counters, err := e.quota.MGet(ctx, dailyKey, monthlyKey)
	if err != nil {
		e.logs.Warn("quota counter read failed", map[string]any{"user_id": userID, "error": err.Error()})
		counters = []int64{0, 0}
	}
	daily, monthly := counters[0], counters[1]

	if policy.DailyTokenLimit > 0 && daily >= policy.DailyTokenLimit {
		return Decision{Allowed: false, Reason: "Daily token limit exceeded", Code: gatewayerrors.KindDailyExceeded}
	}
	if policy.MonthlyTokenLimit > 0 && monthly >= policy.MonthlyTokenLimit {
		return Decision{Allowed: false, Reason: "Monthly token limit exceeded", Code: gatewayerrors.KindMonthlyExceeded}
	}

	return Decision{Allowed: true}
}
