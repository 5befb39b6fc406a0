package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/duetdate/planner-server-go/internal/analysis"
	apperrors "github.com/duetdate/planner-server-go/internal/errors"
	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/realtime"
	"github.com/duetdate/planner-server-go/internal/repository"
)

// AnalysisEngine is the downstream compatibility/recommendation step.
type AnalysisEngine interface {
	Analyze(ctx context.Context, req analysis.Request) (*model.AnalysisResult, error)
}

var _ AnalysisEngine = (*analysis.Client)(nil)

// TriggerGate invokes the analysis engine at most once per session
// activation from this process. The one-shot flag is local: if both
// participants' processes observe joint completion at nearly the same time,
// both may trigger; the score-null guard in the store narrows that window
// but does not close it, and the loser simply discards its result.
type TriggerGate struct {
	engine          AnalysisEngine
	sessionRepo     repository.SessionRepository
	publisher       realtime.Publisher
	defaultLocation model.Location

	mu    sync.Mutex
	fired map[string]bool
}

func NewTriggerGate(
	engine AnalysisEngine,
	sessionRepo repository.SessionRepository,
	publisher realtime.Publisher,
	defaultLocation model.Location,
) *TriggerGate {
	return &TriggerGate{
		engine:          engine,
		sessionRepo:     sessionRepo,
		publisher:       publisher,
		defaultLocation: defaultLocation,
		fired:           make(map[string]bool),
	}
}

// Observe checks the given session state and fires the analysis call when it
// qualifies: joint completion reached, no stored score, and this process has
// not fired for the session yet. The flag is set before the call so a rapid
// second observation cannot double-trigger; an analysis or store failure
// resets it so the next qualifying observation retries.
func (g *TriggerGate) Observe(ctx context.Context, session *model.PlanningSession, callerID string, location *model.Location) error {
	if session == nil || g.engine == nil {
		return nil
	}
	if !session.BothPreferencesComplete || session.AICompatibilityScore != nil {
		return nil
	}
	if session.SessionStatus != model.SessionStatusActive {
		return nil
	}

	g.mu.Lock()
	if g.fired[session.ID] {
		g.mu.Unlock()
		return nil
	}
	g.fired[session.ID] = true
	g.mu.Unlock()

	role, ok := session.RoleOf(callerID)
	if !ok {
		g.Release(session.ID)
		return apperrors.NotAParticipant(callerID)
	}

	loc := g.defaultLocation
	if location != nil {
		loc = *location
	}

	partnerID := session.PartnerID
	if role == model.RolePartner {
		partnerID = session.InitiatorID
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("role", string(role)).
		Msg("triggering compatibility analysis")

	result, err := g.engine.Analyze(ctx, analysis.Request{
		SessionID:          session.ID,
		PartnerID:          partnerID,
		CallerPreferences:  session.PreferencesFor(role),
		PartnerPreferences: session.PreferencesFor(role.Other()),
		Location:           loc,
	})
	if err != nil {
		g.Release(session.ID)
		return apperrors.AnalysisFailed(err)
	}

	claimed, err := g.sessionRepo.SetAnalysisResult(ctx, session.ID, result.CompatibilityScore, result.Venues)
	if err != nil {
		g.Release(session.ID)
		return apperrors.Database(err)
	}
	if !claimed {
		// Another process won the score write; keep the local flag set so we
		// do not call the engine again for this activation.
		log.Info().
			Str("sessionId", session.ID).
			Msg("analysis result already stored by another process")
		return nil
	}

	g.publishResult(ctx, session.ID)
	return nil
}

// Release clears the one-shot flag for a session, re-arming the gate. Called
// after failures and by ResetSession.
func (g *TriggerGate) Release(sessionID string) {
	g.mu.Lock()
	delete(g.fired, sessionID)
	g.mu.Unlock()
}

// Fired reports whether this process has already triggered for the session.
func (g *TriggerGate) Fired(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired[sessionID]
}

func (g *TriggerGate) publishResult(ctx context.Context, sessionID string) {
	if g.publisher == nil {
		return
	}

	fresh, err := g.sessionRepo.FindByID(ctx, sessionID)
	if err != nil || fresh == nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to reload session after analysis")
		return
	}

	data, err := json.Marshal(fresh)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to marshal analysis event")
		return
	}

	event := realtime.Event{
		Type: realtime.EventAnalysisComplete,
		Data: data,
	}
	if err := g.publisher.Publish(ctx, sessionID, event); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to publish analysis result")
	}
}
