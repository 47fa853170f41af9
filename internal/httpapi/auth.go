package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/NikWasHere/magang-rspb-sub000/internal/store"
)

type authContextKey struct{}

// AuthMiddleware resolves the bearer token against the session store for
// staff-only routes. Patient-facing routes stay open.
func AuthMiddleware(sessions store.SessionStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}

		session, err := sessions.GetSession(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "session expired")
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(store.Session)
	return session, ok
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint keeps registration, lookup, and queue visibility open;
// verification, completion, serving order, and expiry stay behind staff auth.
func isPublicEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/reservations/lookup", "/api/queue/wait":
		return true
	case "/api/reservations":
		return r.Method == http.MethodPost
	case "/api/queue", "/api/queue/next", "/api/admin/actions/expire":
		return false
	}
	if strings.HasPrefix(r.URL.Path, "/api/patients/") || strings.HasPrefix(r.URL.Path, "/realtime/") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/reservations/") {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reservations/"), "/")
		parts := strings.Split(rest, "/")
		if len(parts) == 3 && parts[1] == "actions" {
			// Patients cancel their own reservations; the other actions are
			// staff transitions.
			return parts[2] == "cancel"
		}
		return r.Method == http.MethodGet
	}
	return false
}

// StaticSessions is the config-backed session store: a fixed token table
// loaded from the environment. Identity management proper lives in another
// system.
type StaticSessions struct {
	tokens map[string]store.Session
}

func NewStaticSessions(tokens map[string]store.Session) *StaticSessions {
	if tokens == nil {
		tokens = make(map[string]store.Session)
	}
	return &StaticSessions{tokens: tokens}
}

func (s *StaticSessions) GetSession(_ context.Context, token string) (store.Session, error) {
	session, ok := s.tokens[token]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}
