// Package middleware provides request body size limiting.
package middleware

import "net/http"

// DefaultMaxBodyBytes bounds every request body. All Helm request payloads
// are small JSON objects (a manager id, a package name, a policy flag); a
// single generous limit covers them without per-route tuning.
const DefaultMaxBodyBytes = 64 * 1024

// MaxBodySize returns middleware limiting request body size to max bytes.
// Use for methods that may carry a body (POST, PUT, PATCH).
func MaxBodySize(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
