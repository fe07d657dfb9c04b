package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const userIDKey ctxKey = "user_id"

// identityGate resolves "Authorization: Bearer <key>" to a user id. With no
// keys configured every request passes and handlers read the uid field.
func identityGate(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}
			key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if key == "" {
				writeError(w, http.StatusUnauthorized, "invalid Authorization header format")
				return
			}

			uid, ok := lookupKey(keys, key)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
		})
	}
}

// lookupKey compares key against every configured key in constant time.
func lookupKey(keys map[string]string, key string) (string, bool) {
	var (
		uid   string
		found bool
	)
	for k, u := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			uid, found = u, true
		}
	}
	return uid, found
}

// authenticatedUser returns the user id set by the gate, if any.
func authenticatedUser(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	return uid, ok && uid != ""
}
