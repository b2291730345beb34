// Package proxy implements the ProxyPipeline: the HTTP handler that
// composes identity resolution, policy enforcement, header hygiene,
// upstream dispatch, and streaming usage extraction (spec.md §4.4).
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
	"github.com/tjfontaine/openwebui-gateway/internal/configstore"
	"github.com/tjfontaine/openwebui-gateway/internal/gatewayerrors"
	"github.com/tjfontaine/openwebui-gateway/internal/identity"
	"github.com/tjfontaine/openwebui-gateway/internal/metrics"
	"github.com/tjfontaine/openwebui-gateway/internal/pkg/safehttp"
	"github.com/tjfontaine/openwebui-gateway/internal/policyengine"
	"github.com/tjfontaine/openwebui-gateway/internal/systemlog"
	"github.com/tjfontaine/openwebui-gateway/internal/usagepipeline"
)

// upstreamBaseURL is a var (not const) so tests can redirect it at an
// httptest server.
var upstreamBaseURL = "https://openrouter.ai/api"

// AuditStore is the subset of audit.Store the proxy writes to directly
// (user provisioning only; usage and request-log rows are written
// asynchronously via UsagePipeline).
type AuditStore interface {
	EnsureUser(ctx context.Context, id string) error
}

// Pipeline is the ProxyPipeline handler.
type Pipeline struct {
	config *configstore.Store
	policy *policyengine.Engine
	audit  AuditStore
	usage  *usagepipeline.Pipeline
	logs   *systemlog.Log
	client *http.Client
}

// New constructs a Pipeline. client should wrap pkg/safehttp.SafeTransport
// to reduce SSRF risk on the upstream dispatch.
func New(config *configstore.Store, policy *policyengine.Engine, auditStore AuditStore, usage *usagepipeline.Pipeline, logs *systemlog.Log, client *http.Client) *Pipeline {
	if client == nil {
		client = &http.Client{Transport: safehttp.SafeTransport, Timeout: 120 * time.Second}
	}
	return &Pipeline{config: config, policy: policy, audit: auditStore, usage: usage, logs: logs, client: client}
}

// ServeHTTP implements the full §4.4 request sequence for ANY method on
// /v1/*.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	upstreamKey, ok := p.config.Get(configstore.KeyOpenRouterAPIKey)
	if !ok || upstreamKey == "" {
		p.writeError(w, gatewayerrors.ConfigMissing("Missing upstream API key"))
		return
	}

	suffix := strings.TrimPrefix(r.URL.Path, "/v1/")

	// Fast path: GET /v1/models bypasses identity, policy, and usage.
	if r.Method == http.MethodGet && suffix == "models" {
		p.forwardVerbatim(w, r, upstreamKey, started, "", "")
		return
	}

	userID, hasIdentity := identity.Resolve(r)
	if hasIdentity {
		if err := p.audit.EnsureUser(r.Context(), userID); err != nil {
			p.logs.Warn("ensure user failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.writeError(w, gatewayerrors.BadRequest("failed to read request body"))
		return
	}
	r.Body.Close()

	model := "unknown"
	isJSON := strings.Contains(r.Header.Get("Content-Type"), "application/json")
	var parsed map[string]any

	if isJSON && isWriteMethod(r.Method) && len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err == nil {
			if m, ok := parsed["model"].(string); ok && m != "" {
				model = m
			}

			if hasIdentity {
				decision := p.policy.CheckAccess(r.Context(), userID)
				if !decision.Allowed {
					metrics.PolicyDenialsTotal.WithLabelValues(string(decision.Code)).Inc()
					p.recordRequestLog(r, userID, model, http.StatusForbidden, false, started)
					p.writeJSON(w, http.StatusForbidden, map[string]string{"error": decision.Reason})
					return
				}
			}

			parsed["user"] = userID
			if rewritten, err := json.Marshal(parsed); err == nil {
				body = rewritten
			}
		} else {
			p.logs.Warn("failed to parse JSON request body", map[string]any{"error": err.Error()})
		}
	}

	upstreamReq, err := p.buildUpstreamRequest(r, upstreamKey, suffix, body)
	if err != nil {
		p.writeError(w, gatewayerrors.Internal("failed to build upstream request", err))
		return
	}

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		p.recordRequestLog(r, userID, model, http.StatusBadGateway, false, started)
		p.writeError(w, gatewayerrors.UpstreamUnavailable("upstream dispatch failed", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logs.Warn("upstream returned non-2xx status", map[string]any{"user_id": userID, "path": r.URL.Path, "status": resp.StatusCode})
	}

	outHeaders := cleanReturnHeaders(resp.Header)
	for k, v := range outHeaders {
		w.Header()[k] = v
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		w.WriteHeader(resp.StatusCode)
		streamThrough(w, resp.Body, model, func(streamModel string, usage json.RawMessage) {
			p.processUsage(r.Context(), userID, hasIdentity, streamModel, usage)
		})
		p.recordRequestLog(r, userID, model, resp.StatusCode, true, started)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logs.Warn("failed to read upstream response body", map[string]any{"error": err.Error()})
	}

	var respParsed map[string]any
	if err := json.Unmarshal(respBody, &respParsed); err == nil {
		if usageRaw, ok := respParsed["usage"]; ok {
			if usageBytes, err := json.Marshal(usageRaw); err == nil {
				respModel := model
				if m, ok := respParsed["model"].(string); ok && m != "" {
					respModel = m
				}
				p.processUsage(r.Context(), userID, hasIdentity, respModel, usageBytes)
			}
		}
	}

	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
	p.recordRequestLog(r, userID, model, resp.StatusCode, false, started)
}

func (p *Pipeline) forwardVerbatim(w http.ResponseWriter, r *http.Request, upstreamKey string, started time.Time, userID, model string) {
	req, err := p.buildUpstreamRequest(r, upstreamKey, "models", nil)
	if err != nil {
		p.writeError(w, gatewayerrors.Internal("failed to build upstream request", err))
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordRequestLog(r, userID, model, http.StatusBadGateway, false, started)
		p.writeError(w, gatewayerrors.UpstreamUnavailable("upstream dispatch failed", err))
		return
	}
	defer resp.Body.Close()

	outHeaders := cleanReturnHeaders(resp.Header)
	for k, v := range outHeaders {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
	p.recordRequestLog(r, userID, model, resp.StatusCode, false, started)
}

func (p *Pipeline) buildUpstreamRequest(r *http.Request, upstreamKey, suffix string, body []byte) (*http.Request, error) {
	url := upstreamBaseURL + "/v1/" + suffix
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header = cleanForwardHeaders(r.Header)
	req.Header.Set("Authorization", "Bearer "+upstreamKey)

	if referer, ok := p.config.Get(configstore.KeyOpenRouterReferer); ok && referer != "" {
		req.Header.Set("HTTP-Referer", referer)
	}
	if title, ok := p.config.Get(configstore.KeyOpenRouterTitle); ok && title != "" {
		req.Header.Set("X-Title", title)
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "openwebui-gateway")
	}

	return req, nil
}

func (p *Pipeline) processUsage(ctx context.Context, userID string, hasIdentity bool, model string, usageRaw json.RawMessage) {
	if !hasIdentity {
		return
	}
	fields, err := usagepipeline.ParseUsageFields(usageRaw)
	if err != nil {
		p.logs.Warn("usage field parse failed", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}
	p.usage.EnqueueUsage(ctx, userID, model, fields)
}

func (p *Pipeline) recordRequestLog(r *http.Request, userID, model string, status int, isStream bool, started time.Time) {
	completed := time.Now()
	elapsed := completed.Sub(started)
	latency := elapsed.Milliseconds()
	if latency < 0 {
		latency = 0
	}

	metrics.RequestsTotal.WithLabelValues(statusClass(status)).Inc()
	metrics.RequestDuration.WithLabelValues(model).Observe(elapsed.Seconds())

	p.usage.EnqueueRequestLog(r.Context(), audit.RequestLog{
		UserID: userID, Model: model, Path: r.URL.Path, Method: r.Method,
		Status: status, IsStream: isStream, LatencyMS: latency,
		StartedAt: started, CompletedAt: completed,
	})
}

func (p *Pipeline) writeError(w http.ResponseWriter, err *gatewayerrors.Error) {
	p.writeJSON(w, err.HTTPStatusCode(), map[string]string{"error": err.Message})
}

func (p *Pipeline) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func isWriteMethod(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
