// Package requestid assigns every inbound request a correlation identifier,
// honoring a valid caller-supplied X-Request-ID and generating one otherwise.
package requestid

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// Header is the request and response header carrying the identifier.
const Header = "X-Request-ID"

const maxIDLength = 128

var validIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type ctxKey struct{}

// Middleware injects a request ID into the request context and echoes it in
// the response header. Malformed inbound IDs are replaced, never trusted.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if !isValid(requestID) {
			requestID = uuid.New().String()
		}
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), requestID)))
	})
}

// WithContext stores the request ID in the context.
func WithContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// FromContext extracts the request ID, or "" when none is set.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

func isValid(id string) bool {
	return len(id) > 0 && len(id) <= maxIDLength && validIDRegex.MatchString(id)
}
