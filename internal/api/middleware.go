package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vocaldesk/vocaldesk/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// sessionToken extracts the opaque session token from X-Session-Token or
// Authorization: Bearer <token>.
func sessionToken(r *http.Request) string {
	if token := r.Header.Get("X-Session-Token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func userFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

// SessionAuth resolves the request's session token to a user record and
// stores it in the request context. The user is reloaded per request so
// permission edits take effect immediately.
func SessionAuth(sessions Sessions, users UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				respondError(w, http.StatusUnauthorized, "missing session token")
				return
			}

			userID, err := sessions.Get(r.Context(), token)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "session lookup failed")
				return
			}
			if userID == uuid.Nil {
				respondError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission gates a route on one index of the 20-bit permission
// vector. Must run inside SessionAuth.
func RequirePermission(index int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFrom(r.Context())
			if user == nil {
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !user.Can(index) {
				respondError(w, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
