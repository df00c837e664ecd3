// Package reqid attaches a request-correlation id to every WC request,
// grounded on original_source's wc/middleware.py (one UUID generated per
// inbound request, echoed back in the response and included on every log
// line for that request). The RM and TM use xid as their correlation key;
// the WC additionally needs one before an xid exists yet (e.g. validation
// failures on the initial business request), hence a separate id.
package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey int

const requestIDKey contextKey = 0

// HeaderName is the header the WC echoes the request id back on.
const HeaderName = "X-Request-Id"

// Middleware assigns a fresh request id to every inbound request that
// doesn't already carry one, stores it in the request context, and echoes
// it back on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderName)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderName, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request id stored by Middleware, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
