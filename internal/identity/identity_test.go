package identity

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func req(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestEmailHeaderTakesPriority(t *testing.T) {
	r := req(map[string]string{
		headerUserEmail: "  A@Example.com ",
		headerUserID:    "someone-else",
	})
	id, ok := Resolve(r)
	if !ok || id != "a@example.com" {
		t.Fatalf("expected a@example.com, got %q (ok=%v)", id, ok)
	}
}

func TestIDHeaderUsedWhenEmailAbsent(t *testing.T) {
	r := req(map[string]string{headerUserID: "User-123"})
	id, ok := Resolve(r)
	if !ok || id != "user-123" {
		t.Fatalf("expected user-123, got %q (ok=%v)", id, ok)
	}
}

func jwtWithPayload(payload string) string {
	seg := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(payload))
	return "xx." + seg + ".yy"
}

func TestBearerJWTEmailClaim(t *testing.T) {
	r := req(map[string]string{"authorization": "Bearer " + jwtWithPayload(`{"email":"B@X.com"}`)})
	id, ok := Resolve(r)
	if !ok || id != "b@x.com" {
		t.Fatalf("expected b@x.com, got %q (ok=%v)", id, ok)
	}
}

func TestBearerJWTFallsBackToSub(t *testing.T) {
	r := req(map[string]string{"authorization": "Bearer " + jwtWithPayload(`{"sub":"subject-id"}`)})
	id, ok := Resolve(r)
	if !ok || id != "subject-id" {
		t.Fatalf("expected subject-id, got %q (ok=%v)", id, ok)
	}
}

func TestMalformedJWTYieldsNoIdentity(t *testing.T) {
	r := req(map[string]string{"authorization": "Bearer not-a-jwt"})
	_, ok := Resolve(r)
	if ok {
		t.Fatal("expected malformed JWT to yield no identity")
	}
}

func TestMalformedJWTPayloadYieldsNoIdentity(t *testing.T) {
	r := req(map[string]string{"authorization": "Bearer xx.not-base64-json!!.yy"})
	_, ok := Resolve(r)
	if ok {
		t.Fatal("expected malformed payload to yield no identity")
	}
}

func TestNoHeadersYieldsAnonymous(t *testing.T) {
	r := req(nil)
	_, ok := Resolve(r)
	if ok {
		t.Fatal("expected anonymous request to resolve to no identity")
	}
}
