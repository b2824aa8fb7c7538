package api

import (
	"context"
	"net/http"

	"github.com/hyperengineering/nailguard/internal/validation"
)

// SourceIDHeader identifies the device that sent a request.
const SourceIDHeader = "X-Source-ID"

// sourceIDContextKey is the context key for the calling device ID.
type sourceIDContextKey struct{}

// WithSourceID returns a new context with the source device ID attached.
func WithSourceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sourceIDContextKey{}, id)
}

// SourceIDFromContext extracts the source device ID from the context.
// Returns "unknown" if not present or empty.
func SourceIDFromContext(ctx context.Context) string {
	id, ok := ctx.Value(sourceIDContextKey{}).(string)
	if !ok || id == "" {
		return "unknown"
	}
	return id
}

// SourceIDMiddleware copies a well-formed X-Source-ID header into the
// request context. Malformed values are ignored.
func SourceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SourceIDHeader)
		if id != "" &&
			validation.ValidateNoNullBytes("source", id) == nil &&
			validation.ValidateMaxLength("source", id, validation.MaxSourceIDLength) == nil {
			r = r.WithContext(WithSourceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
