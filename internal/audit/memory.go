package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/openwebui-gateway/internal/configstore"
)

// MemoryStore is an in-process AuditStore used by tests that exercise
// PolicyEngine, ProxyPipeline, UsagePipeline, and AdminSurface without a
// live Postgres.
type MemoryStore struct {
	mu            sync.Mutex
	policies      map[string]Policy
	users         map[string]User
	groupPolicies map[string]GroupPolicy
	usageLogs     []UsageLog
	requestLogs   []RequestLog
	config        map[string]configstore.Row
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		policies:      make(map[string]Policy),
		users:         make(map[string]User),
		groupPolicies: make(map[string]GroupPolicy),
		config:        make(map[string]configstore.Row),
	}
	m.policies[DefaultPolicyID] = Policy{
		ID: DefaultPolicyID, Name: "Default",
		DailyTokenLimit: -1, MonthlyTokenLimit: -1, AllowedModels: "*",
		CreatedAt: time.Now(),
	}
	return m
}

func (m *MemoryStore) Health(ctx context.Context) error { return nil }

func (m *MemoryStore) UpsertPolicy(ctx context.Context, p Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		if existing, ok := m.policies[p.ID]; ok {
			p.CreatedAt = existing.CreatedAt
		} else {
			p.CreatedAt = time.Now()
		}
	}
	m.policies[p.ID] = p
	return nil
}

func (m *MemoryStore) DeletePolicy(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == DefaultPolicyID {
		return false, nil
	}
	if _, ok := m.policies[id]; !ok {
		return false, nil
	}
	delete(m.policies, id)
	return true, nil
}

func (m *MemoryStore) GetPolicy(ctx context.Context, id string) (Policy, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPolicies(ctx context.Context) ([]Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Policy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) EnsureUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; ok {
		return nil
	}
	m.users[id] = User{ID: id, IsActive: true, PolicyID: DefaultPolicyID, CreatedAt: time.Now()}
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PatchUser(ctx context.Context, id string, isActive *bool, policyID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return errNotFound(id)
	}
	if isActive != nil {
		u.IsActive = *isActive
	}
	if policyID != nil {
		u.PolicyID = *policyID
	}
	m.users[id] = u
	return nil
}

func (m *MemoryStore) UpsertGroupPolicy(ctx context.Context, gp GroupPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gp.CreatedAt.IsZero() {
		gp.CreatedAt = time.Now()
	}
	m.groupPolicies[gp.GroupName] = gp
	return nil
}

func (m *MemoryStore) DeleteGroupPolicy(ctx context.Context, groupName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groupPolicies[groupName]; !ok {
		return false, nil
	}
	delete(m.groupPolicies, groupName)
	return true, nil
}

func (m *MemoryStore) ListGroupPolicies(ctx context.Context) ([]GroupPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GroupPolicy, 0, len(m.groupPolicies))
	for _, gp := range m.groupPolicies {
		out = append(out, gp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].GroupName < out[j].GroupName
	})
	return out, nil
}

func (m *MemoryStore) InsertUsageLog(ctx context.Context, u UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = int64(len(m.usageLogs) + 1)
	if u.TS.IsZero() {
		u.TS = time.Now()
	}
	m.usageLogs = append(m.usageLogs, u)
	return nil
}

func (m *MemoryStore) InsertRequestLog(ctx context.Context, r RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.requestLogs) + 1)
	m.requestLogs = append(m.requestLogs, r)
	return nil
}

func (m *MemoryStore) RecentUsage(ctx context.Context, limit int) ([]UsageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UsageLog, len(m.usageLogs))
	copy(out, m.usageLogs)
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	modelCounts := map[string]int64{}
	userCounts := map[string]int64{}
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, u := range m.usageLogs {
		st.TotalUsageRows++
		st.TotalTokens += int64(u.TotalTokens)
		st.TotalCost += u.TotalCost
		modelCounts[u.Model]++
		userCounts[u.UserID]++
		if u.TS.After(cutoff) {
			st.Last24hRequests++
			st.Last24hTokens += int64(u.TotalTokens)
		}
	}
	st.TopModels = topN(modelCounts, 5)
	st.TopUsers = topN(userCounts, 5)

	var latencies []float64
	for _, r := range m.requestLogs {
		if r.StartedAt.After(cutoff) {
			latencies = append(latencies, float64(r.LatencyMS))
		}
	}
	st.Last24hP50Latency = percentile(latencies, 0.5)
	st.Last24hP95Latency = percentile(latencies, 0.95)
	st.Last24hP99Latency = percentile(latencies, 0.99)
	return st, nil
}

func (m *MemoryStore) Performance(ctx context.Context) (Performance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var p Performance
	cutoff := time.Now().Add(-24 * time.Hour)
	var latencies []float64
	var sum, max float64
	for _, r := range m.requestLogs {
		if r.StartedAt.After(cutoff) {
			l := float64(r.LatencyMS)
			latencies = append(latencies, l)
			sum += l
			if l > max {
				max = l
			}
		}
	}
	if len(latencies) > 0 {
		p.AvgLatencyMS = sum / float64(len(latencies))
	}
	p.P50LatencyMS = percentile(latencies, 0.5)
	p.P95LatencyMS = percentile(latencies, 0.95)
	p.P99LatencyMS = percentile(latencies, 0.99)
	p.MaxLatencyMS = max

	recent := make([]RequestLog, len(m.requestLogs))
	copy(recent, m.requestLogs)
	sort.Slice(recent, func(i, j int) bool { return recent[i].StartedAt.After(recent[j].StartedAt) })
	if len(recent) > 200 {
		recent = recent[:200]
	}
	p.Recent = recent
	return p, nil
}

func (m *MemoryStore) GetAllConfig(ctx context.Context) (map[string]configstore.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]configstore.Row, len(m.config))
	for k, v := range m.config {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) EnsureConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.config[key]; ok {
		return nil
	}
	m.config[key] = configstore.Row{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func (m *MemoryStore) UpsertConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = configstore.Row{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func topN(counts map[string]int64, n int) []NamedCount {
	out := make([]NamedCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, NamedCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// percentile uses exact rank with linear interpolation, matching Postgres'
// percentile_cont semantics used by the production store.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func errNotFound(id string) error {
	return notFoundError("user not found: " + id)
}
