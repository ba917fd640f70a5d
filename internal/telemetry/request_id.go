package telemetry

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"

	// RequestIDHeader propagates the id to and from upstream proxies.
	RequestIDHeader = "X-Request-ID"
)

// RequestID tags every request with an id for log correlation. An id
// arriving in the X-Request-ID header is kept so traces started upstream
// stay joined; otherwise a fresh UUID is minted. The id is echoed back in
// the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// GetRequestID returns the id stored by the RequestID middleware, or an
// empty string outside of one.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)

	return id
}
