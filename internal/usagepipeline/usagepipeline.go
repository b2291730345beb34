// Package usagepipeline implements the asynchronous durable-logging path:
// in-process enqueue of usage and request-performance events onto
// QuotaStore's durable lists, and background workers that batch-drain
// those lists into AuditStore (spec.md §4.5).
package usagepipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/metrics"
	"github.com/tjfontaine/openwebui-gateway/internal/quotastore"
	"github.com/tjfontaine/openwebui-gateway/internal/systemlog"
)

const drainBatchSize = 100

// UsageFields is the subset of an upstream usage object the pipeline
// reads. Fields are optional; missing ones are treated as zero.
type UsageFields struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
	TotalCost        float64 `json:"total_cost"`
}

// ParseUsageFields best-effort decodes raw into UsageFields. A parse
// failure is the caller's to swallow-and-log per spec.md §7.
func ParseUsageFields(raw json.RawMessage) (UsageFields, error) {
	var u UsageFields
	err := json.Unmarshal(raw, &u)
	return u, err
}

// total computes usage.total_tokens, falling back to the sum of prompt
// and completion tokens (spec.md §4.5).
func (u UsageFields) total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// cost prefers "cost" over "total_cost" per spec.md §9's open question.
func (u UsageFields) cost() float64 {
	if u.Cost != 0 {
		return u.Cost
	}
	return u.TotalCost
}

// queuedUsageEvent is the JSON shape pushed onto usage_queue.
type queuedUsageEvent struct {
	UserID           string    `json:"user_id"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	TotalCost        float64   `json:"total_cost"`
	TS               time.Time `json:"ts"`
}

// AuditStore is the subset of audit.Store the drain workers write to.
type AuditStore interface {
	InsertUsageLog(ctx context.Context, u audit.UsageLog) error
	InsertRequestLog(ctx context.Context, r audit.RequestLog) error
}

// Pipeline composes QuotaStore (hot-path enqueue + durable list) and
// AuditStore (drain target).
type Pipeline struct {
	quota quotastore.Store
	audit AuditStore
	logs  *systemlog.Log
}

func New(quota quotastore.Store, auditStore AuditStore, logs *systemlog.Log) *Pipeline {
	return &Pipeline{quota: quota, audit: auditStore, logs: logs}
}

// EnqueueUsage atomically increments the daily/monthly counters and
// durably enqueues a UsageEvent. Enqueue failures are swallowed but
// SystemLogged; they never fail the client response (spec.md §5, §7).
func (p *Pipeline) EnqueueUsage(ctx context.Context, userID, model string, usage UsageFields) {
	total := usage.total()
	now := time.Now()

	if _, err := p.quota.IncrBy(ctx, quotastore.DailyCounterKey(userID, now), total); err != nil {
		p.logs.Warn("daily counter increment failed", map[string]any{"user_id": userID, "error": err.Error()})
	}
	if _, err := p.quota.IncrBy(ctx, quotastore.MonthlyCounterKey(userID, now), total); err != nil {
		p.logs.Warn("monthly counter increment failed", map[string]any{"user_id": userID, "error": err.Error()})
	}

	event := queuedUsageEvent{
		UserID: userID, Model: model,
		PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens,
		TotalTokens: total, TotalCost: usage.cost(), TS: now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logs.Warn("usage event marshal failed", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}
	if err := p.quota.LPush(ctx, quotastore.UsageQueue, payload); err != nil {
		p.logs.Warn("usage event enqueue failed", map[string]any{"user_id": userID, "error": err.Error()})
	}

	metrics.UsageTokensTotal.WithLabelValues(model).Add(float64(total))
}

// EnqueueRequestLog durably enqueues a RequestLog payload onto
// request_perf_queue.
func (p *Pipeline) EnqueueRequestLog(ctx context.Context, r audit.RequestLog) {
	payload, err := json.Marshal(r)
	if err != nil {
		p.logs.Warn("request log marshal failed", map[string]any{"error": err.Error()})
		return
	}
	if err := p.quota.LPush(ctx, quotastore.RequestPerfQueue, payload); err != nil {
		p.logs.Warn("request log enqueue failed", map[string]any{"error": err.Error()})
	}
}

// RunWorkers starts n background drain loops. Each iteration drains up to
// drainBatchSize items from both queues and writes them into AuditStore
// individually. Errors are logged and the loop continues; it sleeps 1s only
// after an iteration that drained nothing, so an error on an iteration that
// did drain items is not followed by a backoff.
func (p *Pipeline) RunWorkers(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		go p.drainLoop(ctx)
	}
}

func (p *Pipeline) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		drained := p.drainOnce(ctx)
		if !drained {
			select {
			case <-ctx.Done():
				return
			case <-time.After(1 * time.Second):
			}
		}
	}
}

func (p *Pipeline) drainOnce(ctx context.Context) bool {
	drainedAny := false

	if n, err := p.quota.LLen(ctx, quotastore.UsageQueue); err == nil {
		metrics.QueueDepth.WithLabelValues(quotastore.UsageQueue).Set(float64(n))
	}
	if n, err := p.quota.LLen(ctx, quotastore.RequestPerfQueue); err == nil {
		metrics.QueueDepth.WithLabelValues(quotastore.RequestPerfQueue).Set(float64(n))
	}

	usageItems, err := p.quota.RPopN(ctx, quotastore.UsageQueue, drainBatchSize)
	if err != nil {
		p.logs.Error("usage queue drain failed", map[string]any{"error": err.Error()})
	}
	for _, raw := range usageItems {
		drainedAny = true
		var e queuedUsageEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			p.logs.Error("usage event unmarshal failed during drain", map[string]any{"error": err.Error()})
			continue
		}
		err := p.audit.InsertUsageLog(ctx, audit.UsageLog{
			UserID: e.UserID, Model: e.Model,
			PromptTokens: int(e.PromptTokens), CompletionTokens: int(e.CompletionTokens),
			TotalTokens: int(e.TotalTokens), TotalCost: e.TotalCost, TS: e.TS,
		})
		if err != nil {
			p.logs.Error("usage log insert failed during drain", map[string]any{"error": err.Error()})
		}
	}

	requestItems, err := p.quota.RPopN(ctx, quotastore.RequestPerfQueue, drainBatchSize)
	if err != nil {
		p.logs.Error("request perf queue drain failed", map[string]any{"error": err.Error()})
	}
	for _, raw := range requestItems {
		drainedAny = true
		var r audit.RequestLog
		if err := json.Unmarshal(raw, &r); err != nil {
			p.logs.Error("request log unmarshal failed during drain", map[string]any{"error": err.Error()})
			continue
		}
		if err := p.audit.InsertRequestLog(ctx, r); err != nil {
			p.logs.Error("request log insert failed during drain", map[string]any{"error": err.Error()})
		}
	}

	return drainedAny
}
