package usagepipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/quotastore"
	"github.com/tjfontaine/openwebui-gateway/internal/systemlog"
)

func newPipeline() (*Pipeline, *quotastore.MemoryStore, *audit.MemoryStore) {
	q := quotastore.NewMemoryStore()
	a := audit.NewMemoryStore()
	logs := systemlog.New(slog.Default())
	return New(q, a, logs), q, a
}

func TestUsageFieldsTotalPrefersReportedTotal(t *testing.T) {
	u := UsageFields{TotalTokens: 100, PromptTokens: 10, CompletionTokens: 5}
	if got := u.total(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestUsageFieldsTotalFallsBackToSum(t *testing.T) {
	u := UsageFields{PromptTokens: 10, CompletionTokens: 5}
	if got := u.total(); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
}

func TestUsageFieldsCostPrefersCostOverTotalCost(t *testing.T) {
	u := UsageFields{Cost: 1.5, TotalCost: 2.5}
	if got := u.cost(); got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
}

func TestEnqueueUsageIncrementsCounters(t *testing.T) {
	p, q, _ := newPipeline()
	ctx := context.Background()
	p.EnqueueUsage(ctx, "a@x.com", "m1", UsageFields{PromptTokens: 3, CompletionTokens: 7})

	counters, err := q.MGet(ctx,
		quotastore.DailyCounterKey("a@x.com", time.Now()),
		quotastore.MonthlyCounterKey("a@x.com", time.Now()),
	)
	if err != nil {
		t.Fatal(err)
	}
	if counters[0] != 10 || counters[1] != 10 {
		t.Fatalf("expected both counters at 10, got %v", counters)
	}
}

func TestDrainOnceInsertsIntoAuditStore(t *testing.T) {
	p, _, a := newPipeline()
	ctx := context.Background()
	p.EnqueueUsage(ctx, "a@x.com", "m1", UsageFields{PromptTokens: 3, CompletionTokens: 7})
	p.EnqueueRequestLog(ctx, audit.RequestLog{UserID: "a@x.com", Model: "m1", Path: "/v1/chat/completions", Method: "POST", Status: 200})

	if !p.drainOnce(ctx) {
		t.Fatal("expected drainOnce to report draining activity")
	}

	usage, err := a.RecentUsage(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(usage) != 1 || usage[0].TotalTokens != 10 {
		t.Fatalf("expected 1 usage log with 10 tokens, got %+v", usage)
	}

	perf, err := a.Performance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(perf.Recent) != 1 || perf.Recent[0].Path != "/v1/chat/completions" {
		t.Fatalf("expected 1 request log, got %+v", perf.Recent)
	}
}

func TestDrainOnceReturnsFalseWhenQueuesEmpty(t *testing.T) {
	p, _, _ := newPipeline()
	if p.drainOnce(context.Background()) {
		t.Fatal("expected no drain activity on empty queues")
	}
}

func TestParseUsageFieldsRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseUsageFields(json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error for malformed usage JSON")
	}
}
