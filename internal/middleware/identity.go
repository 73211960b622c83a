package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserHeader carries the authenticated user id set by the upstream auth proxy.
const UserHeader = "X-User-ID"

type userKey struct{}

// Identity stores the caller's user id in the request context. Requests
// without the header pass through anonymously; handlers decide whether that
// is acceptable.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
			r = r.WithContext(WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID returns the caller's id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
