package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/duetdate/planner-server-go/internal/middleware"
	"github.com/duetdate/planner-server-go/internal/realtime"
	"github.com/duetdate/planner-server-go/internal/service"
)

// EventsHandler streams full-row session snapshots to a participant as SSE.
// One subscription per connection, scoped to a single session id and torn
// down when the client disconnects.
type EventsHandler struct {
	feed           realtime.Feed
	sessionService *service.SessionService
}

func NewEventsHandler(feed realtime.Feed, sessionService *service.SessionService) *EventsHandler {
	return &EventsHandler{
		feed:           feed,
		sessionService: sessionService,
	}
}

// GET /v1/sessions/{sessionID}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.ParticipantID(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	// Verify participation and get a repaired snapshot for the opening event.
	session, err := h.sessionService.GetSession(ctx, sessionID, callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.feed.Subscribe(sessionID)
	defer func() {
		h.feed.Unsubscribe(client)
		log.Info().
			Str("sessionId", sessionID).
			Int("clients", h.feed.ClientCount(sessionID)).
			Msg("sse connection closed")
	}()

	log.Info().
		Str("sessionId", sessionID).
		Str("participantId", callerID).
		Int("clients", h.feed.ClientCount(sessionID)).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, realtime.EventSessionUpdated, session); err != nil {
		log.Error().Err(err).Msg("failed to send initial session snapshot")
		return
	}

	heartbeat := time.NewTicker(realtime.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-client.Done:
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sessionID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, realtime.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event realtime.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
