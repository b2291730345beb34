package server

import (
	"crypto/subtle"
	"net/http"
)

// AdminKeyMiddleware requires header x-admin-key to equal the configured
// admin key, using a constant-time comparison to avoid timing side
// channels. getAdminKey is resolved per-request so hot config reloads take
// effect without restarting the server.
func AdminKeyMiddleware(getAdminKey func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := getAdminKey()
			got := r.Header.Get("x-admin-key")
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
