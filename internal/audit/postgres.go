// Package audit is the durable relational AuditStore: policies, users,
// group_policies, usage_logs, request_logs, and system_config. The
// production implementation is Postgres via pgx/pgxpool, grounded on the
// connection-pool idiom used for the read-only webui datastore client.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tjfontaine/openwebui-gateway/internal/configstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	daily_token_limit BIGINT NOT NULL DEFAULT -1,
	monthly_token_limit BIGINT NOT NULL DEFAULT -1,
	allowed_models TEXT NOT NULL DEFAULT '*',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	is_active INTEGER NOT NULL DEFAULT 1,
	policy_id TEXT NOT NULL REFERENCES policies(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS group_policies (
	group_name TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL REFERENCES policies(id),
	priority INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost NUMERIC(15,10) NOT NULL DEFAULT 0,
	ts TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS request_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	method TEXT NOT NULL,
	status INTEGER NOT NULL,
	is_stream BOOLEAN NOT NULL DEFAULT false,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	total_cost NUMERIC(15,10) NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_logs_started_at ON request_logs (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_request_logs_completed_at ON request_logs (completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_request_logs_user_started ON request_logs (user_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_request_logs_model_started ON request_logs (model, started_at DESC);

CREATE TABLE IF NOT EXISTS system_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

INSERT INTO policies (id, name, daily_token_limit, monthly_token_limit, allowed_models)
VALUES ('default', 'Default', -1, -1, '*')
ON CONFLICT (id) DO NOTHING;
`

// Store is the Postgres-backed AuditStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to Postgres via dsn (DATABASE_URL), pings, and ensures the
// schema exists including the immortal default policy.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit store: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init audit store schema: %w", err)
	}

	logger.Info("connected to audit store")
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Policies ---

func (s *Store) UpsertPolicy(ctx context.Context, p Policy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO policies (id, name, daily_token_limit, monthly_token_limit, allowed_models)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			daily_token_limit = EXCLUDED.daily_token_limit,
			monthly_token_limit = EXCLUDED.monthly_token_limit,
			allowed_models = EXCLUDED.allowed_models
	`, p.ID, p.Name, p.DailyTokenLimit, p.MonthlyTokenLimit, p.AllowedModels)
	if err != nil {
		return fmt.Errorf("upsert policy %s: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy returns false (no-op) if id is the immortal default policy
// or if no such policy exists.
func (s *Store) DeletePolicy(ctx context.Context, id string) (bool, error) {
	if id == DefaultPolicyID {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete policy %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (Policy, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, daily_token_limit, monthly_token_limit, allowed_models, created_at
		FROM policies WHERE id = $1
	`, id)
	var p Policy
	if err := row.Scan(&p.ID, &p.Name, &p.DailyTokenLimit, &p.MonthlyTokenLimit, &p.AllowedModels, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Policy{}, false, nil
		}
		return Policy{}, false, fmt.Errorf("get policy %s: %w", id, err)
	}
	return p, true, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, daily_token_limit, monthly_token_limit, allowed_models, created_at
		FROM policies ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.DailyTokenLimit, &p.MonthlyTokenLimit, &p.AllowedModels, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Users ---

// EnsureUser inserts the user with policy_id=default if absent (lazy
// provisioning on first sighting, spec.md §4.4 step 3).
func (s *Store) EnsureUser(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, is_active, policy_id)
		VALUES ($1, 1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, DefaultPolicyID)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, is_active, policy_id, created_at FROM users WHERE id = $1
	`, id)
	var u User
	var isActive int
	if err := row.Scan(&u.ID, &isActive, &u.PolicyID, &u.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("get user %s: %w", id, err)
	}
	u.IsActive = isActive != 0
	return u, true, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, is_active, policy_id, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var isActive int
		if err := rows.Scan(&u.ID, &isActive, &u.PolicyID, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.IsActive = isActive != 0
		out = append(out, u)
	}
	return out, rows.Err()
}

// PatchUser updates is_active and/or policy_id; nil fields are left unchanged.
func (s *Store) PatchUser(ctx context.Context, id string, isActive *bool, policyID *string) error {
	current, found, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("patch user %s: not found", id)
	}
	if isActive != nil {
		current.IsActive = *isActive
	}
	if policyID != nil {
		current.PolicyID = *policyID
	}

	activeInt := 0
	if current.IsActive {
		activeInt = 1
	}
	_, err = s.pool.Exec(ctx, `UPDATE users SET is_active = $2, policy_id = $3 WHERE id = $1`, id, activeInt, current.PolicyID)
	if err != nil {
		return fmt.Errorf("patch user %s: %w", id, err)
	}
	return nil
}

// --- GroupPolicies ---

func (s *Store) UpsertGroupPolicy(ctx context.Context, gp GroupPolicy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_policies (group_name, policy_id, priority)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_name) DO UPDATE SET
			policy_id = EXCLUDED.policy_id,
			priority = EXCLUDED.priority
	`, gp.GroupName, gp.PolicyID, gp.Priority)
	if err != nil {
		return fmt.Errorf("upsert group policy %s: %w", gp.GroupName, err)
	}
	return nil
}

func (s *Store) DeleteGroupPolicy(ctx context.Context, groupName string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM group_policies WHERE group_name = $1`, groupName)
	if err != nil {
		return false, fmt.Errorf("delete group policy %s: %w", groupName, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListGroupPolicies(ctx context.Context) ([]GroupPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT group_name, policy_id, priority, created_at FROM group_policies
		ORDER BY priority DESC, group_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list group policies: %w", err)
	}
	defer rows.Close()

	var out []GroupPolicy
	for rows.Next() {
		var gp GroupPolicy
		if err := rows.Scan(&gp.GroupName, &gp.PolicyID, &gp.Priority, &gp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group policy: %w", err)
		}
		out = append(out, gp)
	}
	return out, rows.Err()
}

// --- UsageLog / RequestLog ---

func (s *Store) InsertUsageLog(ctx context.Context, u UsageLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_logs (user_id, model, prompt_tokens, completion_tokens, total_tokens, total_cost, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.UserID, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.TotalCost, u.TS)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *Store) InsertRequestLog(ctx context.Context, r RequestLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO request_logs (user_id, model, path, method, status, is_stream, latency_ms, total_cost, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.UserID, r.Model, r.Path, r.Method, r.Status, r.IsStream, r.LatencyMS, r.TotalCost, r.StartedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

func (s *Store) RecentUsage(ctx context.Context, limit int) ([]UsageLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, model, prompt_tokens, completion_tokens, total_tokens, total_cost, ts
		FROM usage_logs ORDER BY ts DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	var out []UsageLog
	for rows.Next() {
		var u UsageLog
		if err := rows.Scan(&u.ID, &u.UserID, &u.Model, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.TotalCost, &u.TS); err != nil {
			return nil, fmt.Errorf("scan usage log: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	row := s.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_tokens),0), COALESCE(SUM(total_cost),0) FROM usage_logs`)
	if err := row.Scan(&st.TotalUsageRows, &st.TotalTokens, &st.TotalCost); err != nil {
		return st, fmt.Errorf("stats totals: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_tokens),0)
		FROM usage_logs WHERE ts >= now() - interval '24 hours'
	`)
	if err := row.Scan(&st.Last24hRequests, &st.Last24hTokens); err != nil {
		return st, fmt.Errorf("stats last24h: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM request_logs WHERE started_at >= now() - interval '24 hours'
	`)
	if err := row.Scan(&st.Last24hP50Latency, &st.Last24hP95Latency, &st.Last24hP99Latency); err != nil {
		return st, fmt.Errorf("stats percentiles: %w", err)
	}

	models, err := s.topN(ctx, `
		SELECT model, COUNT(*) FROM usage_logs GROUP BY model ORDER BY COUNT(*) DESC LIMIT 5
	`)
	if err != nil {
		return st, err
	}
	st.TopModels = models

	users, err := s.topN(ctx, `
		SELECT user_id, COUNT(*) FROM usage_logs GROUP BY user_id ORDER BY COUNT(*) DESC LIMIT 5
	`)
	if err != nil {
		return st, err
	}
	st.TopUsers = users

	return st, nil
}

func (s *Store) topN(ctx context.Context, query string) ([]NamedCount, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("top n query: %w", err)
	}
	defer rows.Close()

	var out []NamedCount
	for rows.Next() {
		var nc NamedCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scan top n: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

func (s *Store) Performance(ctx context.Context) (Performance, error) {
	var p Performance

	row := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(AVG(latency_ms), 0),
			COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(MAX(latency_ms), 0)
		FROM request_logs WHERE started_at >= now() - interval '24 hours'
	`)
	if err := row.Scan(&p.AvgLatencyMS, &p.P50LatencyMS, &p.P95LatencyMS, &p.P99LatencyMS, &p.MaxLatencyMS); err != nil {
		return p, fmt.Errorf("performance summary: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, model, path, method, status, is_stream, latency_ms, total_cost, started_at, completed_at
		FROM request_logs ORDER BY started_at DESC LIMIT 200
	`)
	if err != nil {
		return p, fmt.Errorf("recent request logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r RequestLog
		if err := rows.Scan(&r.ID, &r.UserID, &r.Model, &r.Path, &r.Method, &r.Status, &r.IsStream, &r.LatencyMS, &r.TotalCost, &r.StartedAt, &r.CompletedAt); err != nil {
			return p, fmt.Errorf("scan request log: %w", err)
		}
		p.Recent = append(p.Recent, r)
	}
	return p, rows.Err()
}

// --- SystemConfig (configstore.AuditStore) ---

func (s *Store) GetAllConfig(ctx context.Context) (map[string]configstore.Row, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM system_config`)
	if err != nil {
		return nil, fmt.Errorf("get all config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]configstore.Row)
	for rows.Next() {
		var r configstore.Row
		if err := rows.Scan(&r.Key, &r.Value, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}
		out[r.Key] = r
	}
	return out, rows.Err()
}

func (s *Store) EnsureConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, value)
	if err != nil {
		return fmt.Errorf("ensure config %s: %w", key, err)
	}
	return nil
}

func (s *Store) UpsertConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_config (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("upsert config %s: %w", key, err)
	}
	return nil
}
