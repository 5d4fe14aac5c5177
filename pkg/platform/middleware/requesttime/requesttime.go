// Package requesttime pins one "now" per request. Every expiry comparison and stored
// timestamp inside that request uses it.
package requesttime

import (
	"net/http"
	"time"

	"prefixd/pkg/requestcontext"
)

// Middleware stamps the request with the wall clock.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock stamps the request with clock(); tests use it to pin time.
func WithClock(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
