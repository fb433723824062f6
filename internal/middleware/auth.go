package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/apperr"
	"github.com/BisonCoders/BisonCodersWeb-sub000/pkg/clientip"
)

type userIDKey struct{}

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// BearerToken reads the token from the Authorization header, falling back
// to the token query parameter for browser websocket clients.
func BearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequireSession rejects requests without a valid session with 401 and
// stores the session's user id in the context. A failing session backend
// answers 500, not 401, so clients do not drop a valid login.
func RequireSession(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Missing session token")
				return
			}
			userID, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				if apperr.Is(err, apperr.KindInternal) {
					status = apperr.HTTPStatus(err)
				}
				writeError(w, status, apperr.PublicMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated user id, or "" outside RequireSession.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// UserOrIPKey keys rate limits by user when authenticated, else by client IP.
func UserOrIPKey(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if id := UserID(r.Context()); id != "" {
			return "user:" + id
		}
		return "ip:" + clientip.FromRequest(r, trustProxy)
	}
}
