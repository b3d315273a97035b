// Package visitor carries the anonymous visitor identity through a request.
package visitor

import (
	"context"
	"net/http"
	"strings"
)

// Header is the request header the web shell sends the visitor id in.
const Header = "X-Visitor-Id"

type ctxKey string

const visitorKey ctxKey = "appraisal.visitor_id"

// WithID stores the visitor id in context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, visitorKey, id)
}

// IDFromContext extracts the visitor id if present.
func IDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(visitorKey)
	if val == nil {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// Require rejects requests without a visitor id.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(Header))
		if id == "" {
			http.Error(w, "missing "+Header, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
