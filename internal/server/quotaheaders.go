package server

import (
	"context"
	"net/http"
	"strconv"
)

// quotaContextKey is the context key for quota-remaining info.
type quotaContextKey struct{}

// QuotaInfo carries daily/monthly limits and remaining balances for
// QuotaHeaderMiddleware to surface as response headers.
type QuotaInfo struct {
	DailyLimit       int64
	DailyRemaining   int64
	MonthlyLimit     int64
	MonthlyRemaining int64
}

// SetQuotaInfo stores quota info in context for the middleware to write as headers.
func SetQuotaInfo(ctx context.Context, q *QuotaInfo) context.Context {
	return context.WithValue(ctx, quotaContextKey{}, q)
}

// GetQuotaInfo retrieves quota info from context. Returns nil if unset.
func GetQuotaInfo(ctx context.Context) *QuotaInfo {
	if q, ok := ctx.Value(quotaContextKey{}).(*QuotaInfo); ok {
		return q
	}
	return nil
}

// QuotaHeaderMiddleware writes x-quota-* headers to responses when the
// request it receives already carries QuotaInfo in its context. Nothing in
// this module calls SetQuotaInfo, so responses carry no x-quota-* headers.
func QuotaHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &quotaResponseWriter{ResponseWriter: w, request: r}
		next.ServeHTTP(wrapped, r)
	})
}

// quotaResponseWriter wraps ResponseWriter to write quota headers lazily,
// on the first WriteHeader or Write call. It reads QuotaInfo from the
// request the middleware received; a context a handler derives from it
// is not seen.
type quotaResponseWriter struct {
	http.ResponseWriter
	request      *http.Request
	wroteHeaders bool
}

func (rw *quotaResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeaders {
		rw.writeQuotaHeaders()
		rw.wroteHeaders = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *quotaResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeaders {
		rw.writeQuotaHeaders()
		rw.wroteHeaders = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *quotaResponseWriter) writeQuotaHeaders() {
	q, ok := rw.request.Context().Value(quotaContextKey{}).(*QuotaInfo)
	if !ok || q == nil {
		return
	}

	h := rw.Header()
	if q.DailyLimit >= 0 {
		h.Set("x-quota-limit-daily", strconv.FormatInt(q.DailyLimit, 10))
		h.Set("x-quota-remaining-daily", strconv.FormatInt(q.DailyRemaining, 10))
	}
	if q.MonthlyLimit >= 0 {
		h.Set("x-quota-limit-monthly", strconv.FormatInt(q.MonthlyLimit, 10))
		h.Set("x-quota-remaining-monthly", strconv.FormatInt(q.MonthlyRemaining, 10))
	}
}

// Flush forwards Flush to the underlying ResponseWriter if it supports
// http.Flusher, preserving streaming support for SSE.
func (rw *quotaResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
