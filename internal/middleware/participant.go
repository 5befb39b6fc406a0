package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const ParticipantContextKey contextKey = "participant"

// ParticipantID returns the authenticated participant id, or "" when the
// request carried none.
func ParticipantID(ctx context.Context) string {
	if id, ok := ctx.Value(ParticipantContextKey).(string); ok {
		return id
	}
	return ""
}

// ParticipantMiddleware resolves the calling participant from the
// X-Participant-ID header. Identity verification is the gateway's concern;
// the coordinator only needs to know which half of a session the caller owns.
type ParticipantMiddleware struct{}

func NewParticipantMiddleware() *ParticipantMiddleware {
	return &ParticipantMiddleware{}
}

func (m *ParticipantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		participantID := strings.TrimSpace(r.Header.Get("X-Participant-ID"))
		if participantID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing X-Participant-ID header",
			})
			return
		}

		ctx := context.WithValue(r.Context(), ParticipantContextKey, participantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
