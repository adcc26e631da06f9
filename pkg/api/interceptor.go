package api

import "net/http"

// ReadOnlyMiddleware wraps next so only GET and HEAD requests reach it.
// The admin HTTP surface has no write routes today, but mux.Handle
// patterns don't pin a method the way a gRPC service descriptor would;
// this enforces the same "reject anything but inspection" posture as a
// method allowlist on a gRPC interceptor would, using plain net/http
// routing instead.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "admin surface is read-only", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
