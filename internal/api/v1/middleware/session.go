package middleware

import (
	"context"
	"net/http"

	"github.com/mlqa/lingo/internal/services/session"
	"github.com/mlqa/lingo/pkg/httpext"
	"github.com/rs/zerolog/hlog"
)

type contextKey string

const (
	sessionClaimsKey contextKey = "sessionClaims"
)

// RequireSession makes sure every request carries a session. Requests
// without a valid cookie get a new session, and with it a new conversation.
func RequireSession(sessionService *session.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := sessionService.ValidateSession(r)
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("Failed to validate session")
				httpext.JsonError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			if claims == nil {
				claims, err = sessionService.CreateSession(r.Context(), w)
				if err != nil {
					hlog.FromRequest(r).Error().Err(err).Msg("Failed to create session")
					httpext.JsonError(w, "Internal server error", http.StatusInternalServerError)
					return
				}
				hlog.FromRequest(r).Info().
					Str("conversation_id", claims.ConversationID).
					Msg("Started new session")
			}

			ctx := context.WithValue(r.Context(), sessionClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession retrieves the session claims from the request context
func GetSession(r *http.Request) *session.SessionClaims {
	if claims, ok := r.Context().Value(sessionClaimsKey).(*session.SessionClaims); ok {
		return claims
	}
	return nil
}
