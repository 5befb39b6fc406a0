package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/duetdate/planner-server-go/internal/errors"
	"github.com/duetdate/planner-server-go/internal/middleware"
	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Get("/active", h.GetActiveSession)
	r.Get("/{sessionID}", h.GetSession)
	r.Put("/{sessionID}/preferences", h.UpdatePreferences)
	r.Post("/{sessionID}/complete", h.CompleteSession)
	r.Post("/{sessionID}/reset", h.ResetSession)

	return r
}

type createSessionRequest struct {
	PartnerID    string             `json:"partnerId"`
	PlanningMode model.PlanningMode `json:"planningMode"`
	ForceNew     bool               `json:"forceNew"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.ParticipantID(ctx)

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	session, err := h.sessionService.CreateSession(ctx, callerID, req.PartnerID, req.PlanningMode, req.ForceNew)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GET /v1/sessions/active?partnerId=
func (h *SessionHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.ParticipantID(ctx)

	partnerID := r.URL.Query().Get("partnerId")
	if partnerID == "" {
		writeError(w, apperrors.MissingRequired("partnerId"))
		return
	}

	session, err := h.sessionService.GetActiveSession(ctx, callerID, partnerID)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch active session")
		writeError(w, err)
		return
	}

	if session == nil {
		writeError(w, apperrors.NotFound("Active session"))
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.ParticipantID(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessionService.GetSession(ctx, sessionID, callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// PUT /v1/sessions/{sessionID}/preferences
func (h *SessionHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.ParticipantID(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	var prefs model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	session, err := h.sessionService.UpdatePreferences(ctx, sessionID, callerID, &prefs)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to update preferences")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

type completeSessionRequest struct {
	VenueID string `json:"venueId"`
}

// POST /v1/sessions/{sessionID}/complete
func (h *SessionHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.ParticipantID(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	var req completeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	session, err := h.sessionService.CompleteSession(ctx, sessionID, callerID, req.VenueID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to complete session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /v1/sessions/{sessionID}/reset
func (h *SessionHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.ParticipantID(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	// Reset is a recovery path; still require the caller to belong to the
	// session before clearing it.
	if _, err := h.sessionService.GetSession(ctx, sessionID, callerID); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessionService.ResetSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to reset session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
