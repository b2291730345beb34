package proxy

import (
	"net/http"
	"strings"
)

// hopByHop headers are never forwarded in either direction (RFC 7230 §6.1).
var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// clientSensitive headers are stripped from the forwarded upstream request;
// the proxy injects its own Authorization and identity markers instead.
// x-forwarded-* is matched by prefix.
var clientSensitive = []string{
	"Cookie", "Authorization", "X-Real-Ip", "Accept-Encoding", "Host", "Content-Length",
}

const forwardedPrefix = "X-Forwarded-"

// cleanForwardHeaders copies src into a fresh header set with hop-by-hop
// and client-sensitive headers removed, per spec.md §4.4.
func cleanForwardHeaders(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, v := range src {
		out[k] = append([]string(nil), v...)
	}
	stripHeaders(out, hopByHop)
	stripHeaders(out, clientSensitive)
	stripForwardedHeaders(out)
	return out
}

// cleanReturnHeaders copies src with hop-by-hop plus Content-Length and
// Content-Encoding removed (the body may have been re-serialized or is
// being streamed through intermediate buffering).
func cleanReturnHeaders(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, v := range src {
		out[k] = append([]string(nil), v...)
	}
	stripHeaders(out, hopByHop)
	out.Del("Content-Length")
	out.Del("Content-Encoding")
	return out
}

func stripHeaders(h http.Header, names []string) {
	for _, n := range names {
		h.Del(n)
	}
}

func stripForwardedHeaders(h http.Header) {
	for k := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(k), forwardedPrefix) {
			h.Del(k)
		}
	}
}
