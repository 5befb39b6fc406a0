package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/duetdate/planner-server-go/internal/database"
	apperrors "github.com/duetdate/planner-server-go/internal/errors"
	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/realtime"
	"github.com/duetdate/planner-server-go/internal/repository"
)

// TxRunner runs a function within a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

var _ TxRunner = (*database.DB)(nil)

// SessionService is the single access path to planning sessions: creation
// with the one-active-session-per-pair policy, reads with repair, the
// two-phase preference write, and the terminal transitions.
type SessionService struct {
	db          TxRunner
	sessionRepo repository.SessionRepository
	publisher   realtime.Publisher
	gate        *TriggerGate
	sessionTTL  time.Duration
}

func NewSessionService(
	db TxRunner,
	sessionRepo repository.SessionRepository,
	publisher realtime.Publisher,
	gate *TriggerGate,
	sessionTTL time.Duration,
) *SessionService {
	return &SessionService{
		db:          db,
		sessionRepo: sessionRepo,
		publisher:   publisher,
		gate:        gate,
		sessionTTL:  sessionTTL,
	}
}

// CreateSession returns the existing active session for the unordered pair
// when forceNew is false (idempotent creation); with forceNew it expires
// every active session for the pair first and inserts a fresh row.
func (s *SessionService) CreateSession(
	ctx context.Context,
	initiatorID, partnerID string,
	mode model.PlanningMode,
	forceNew bool,
) (*model.PlanningSession, error) {
	if initiatorID == "" {
		return nil, apperrors.MissingRequired("initiatorId")
	}
	if mode == "" {
		mode = model.PlanningModeCollaborative
	}
	if mode != model.PlanningModeSolo && mode != model.PlanningModeCollaborative {
		return nil, apperrors.InvalidInput("planningMode", string(mode))
	}
	// Solo sessions keep the same state machine with a degenerate partner
	// role: both columns hold the initiator.
	if mode == model.PlanningModeSolo && partnerID == "" {
		partnerID = initiatorID
	}
	if partnerID == "" {
		return nil, apperrors.MissingRequired("partnerId")
	}

	now := time.Now()
	params := model.CreateSessionParams{
		InitiatorID:  initiatorID,
		PartnerID:    partnerID,
		PlanningMode: mode,
		ExpiresAt:    now.Add(s.sessionTTL),
	}

	if forceNew {
		// The superseded sessions and the fresh row commit together.
		var session *model.PlanningSession
		txErr := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			txRepo := s.sessionRepo.WithTx(tx)

			expired, err := txRepo.ExpireActiveForPair(ctx, initiatorID, partnerID)
			if err != nil {
				return err
			}
			if expired > 0 {
				log.Info().
					Int64("count", expired).
					Str("initiatorId", initiatorID).
					Str("partnerId", partnerID).
					Msg("expired superseded sessions")
			}

			session, err = txRepo.Create(ctx, params)
			return err
		})
		if txErr != nil {
			return nil, apperrors.Database(txErr)
		}

		log.Info().
			Str("sessionId", session.ID).
			Str("initiatorId", initiatorID).
			Str("partnerId", partnerID).
			Str("mode", string(mode)).
			Time("expiresAt", session.ExpiresAt).
			Msg("planning session created")

		return session, nil
	}

	existing, err := s.sessionRepo.FindActiveByPair(ctx, initiatorID, partnerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		if existing.IsExpired(now) {
			if err := s.sessionRepo.MarkExpired(ctx, existing.ID); err != nil {
				return nil, apperrors.Database(err)
			}
		} else {
			repairSession(ctx, s.sessionRepo, existing)
			log.Debug().
				Str("sessionId", existing.ID).
				Msg("returning existing active session")
			return existing, nil
		}
	}

	session, err := s.sessionRepo.Create(ctx, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("initiatorId", initiatorID).
		Str("partnerId", partnerID).
		Str("mode", string(mode)).
		Time("expiresAt", session.ExpiresAt).
		Msg("planning session created")

	return session, nil
}

// GetActiveSession returns the most recent active session between the caller
// and partner, or nil when none exists. A session past its expires_at is
// transitioned to expired server-side and reported as absent.
func (s *SessionService) GetActiveSession(ctx context.Context, callerID, partnerID string) (*model.PlanningSession, error) {
	session, err := s.sessionRepo.FindActiveByPair(ctx, callerID, partnerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, nil
	}

	if time.Now().After(session.ExpiresAt) {
		if err := s.sessionRepo.MarkExpired(ctx, session.ID); err != nil {
			return nil, apperrors.Database(err)
		}
		log.Info().Str("sessionId", session.ID).Msg("session expired on fetch")
		return nil, nil
	}

	repairSession(ctx, s.sessionRepo, session)
	return session, nil
}

// GetSession fetches a session by id on behalf of a participant, with repair.
func (s *SessionService) GetSession(ctx context.Context, sessionID, callerID string) (*model.PlanningSession, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if _, ok := session.RoleOf(callerID); !ok {
		return nil, apperrors.NotAParticipant(callerID)
	}

	repairSession(ctx, s.sessionRepo, session)
	return session, nil
}

// UpdatePreferences writes the caller's half of the session. The write is
// two-phase: the role's record and flag first, then the joint flag
// recomputed from a fresh read, because the partner may have written between
// the start and end of this call. There is no compare-and-swap; drift from
// the remaining race window is corrected by repair-on-read.
func (s *SessionService) UpdatePreferences(
	ctx context.Context,
	sessionID, callerID string,
	prefs *model.Preferences,
) (*model.PlanningSession, error) {
	if prefs == nil {
		return nil, apperrors.MissingRequired("preferences")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	role, ok := session.RoleOf(callerID)
	if !ok {
		return nil, apperrors.NotAParticipant(callerID)
	}
	if session.SessionStatus == model.SessionStatusCompleted {
		return nil, apperrors.SessionCompleted()
	}
	if session.IsExpired(time.Now()) {
		return nil, apperrors.SessionExpired()
	}

	if err := s.sessionRepo.SetPreferences(ctx, sessionID, role, prefs); err != nil {
		return nil, apperrors.Database(err)
	}

	// Re-read before recomputing the joint flag; deciding from the pre-update
	// snapshot could overwrite a concurrent partner submission.
	fresh, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if fresh == nil {
		return nil, apperrors.NotFound("Session")
	}

	both := fresh.InitiatorPreferencesComplete && fresh.PartnerPreferencesComplete &&
		fresh.InitiatorPreferences != nil && fresh.PartnerPreferences != nil
	if fresh.BothPreferencesComplete != both {
		if err := s.sessionRepo.SetJointComplete(ctx, sessionID, both); err != nil {
			return nil, apperrors.Database(err)
		}
		fresh.BothPreferencesComplete = both
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("role", string(role)).
		Bool("bothComplete", fresh.BothPreferencesComplete).
		Msg("preferences submitted")

	s.publishSession(ctx, fresh)

	if s.gate != nil {
		if err := s.gate.Observe(ctx, fresh, callerID, nil); err != nil {
			// Analysis failure never corrupts the preference write; the gate
			// resets its flag and the next qualifying observation retries.
			log.Error().Err(err).Str("sessionId", sessionID).Msg("analysis trigger failed")
		}
	}

	return fresh, nil
}

// CompleteSession is the terminal venue-selection transition.
func (s *SessionService) CompleteSession(ctx context.Context, sessionID, callerID, venueID string) (*model.PlanningSession, error) {
	if venueID == "" {
		return nil, apperrors.MissingRequired("venueId")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if _, ok := session.RoleOf(callerID); !ok {
		return nil, apperrors.NotAParticipant(callerID)
	}
	if session.SessionStatus == model.SessionStatusCompleted {
		return nil, apperrors.SessionCompleted()
	}
	if session.IsExpired(time.Now()) {
		return nil, apperrors.SessionExpired()
	}

	if err := s.sessionRepo.Complete(ctx, sessionID, venueID); err != nil {
		return nil, apperrors.Database(err)
	}

	fresh, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("venueId", venueID).
		Msg("planning session completed")

	s.publishSession(ctx, fresh)
	return fresh, nil
}

// ResetSession clears both preference records, all completion flags and the
// stored analysis result, returning the session to its initial-active shape
// without changing its status. Recovery and debugging path.
func (s *SessionService) ResetSession(ctx context.Context, sessionID string) (*model.PlanningSession, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	if err := s.sessionRepo.Reset(ctx, sessionID); err != nil {
		return nil, apperrors.Database(err)
	}

	if s.gate != nil {
		s.gate.Release(sessionID)
	}

	fresh, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().Str("sessionId", sessionID).Msg("planning session reset")

	s.publishSession(ctx, fresh)
	return fresh, nil
}

// publishSession pushes the fresh full row to the change feed. Feed errors
// never fail the originating write; remote processes self-heal on their next
// read.
func (s *SessionService) publishSession(ctx context.Context, session *model.PlanningSession) {
	if s.publisher == nil || session == nil {
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to marshal session event")
		return
	}

	event := realtime.Event{
		Type: realtime.EventSessionUpdated,
		Data: data,
	}
	if err := s.publisher.Publish(ctx, session.ID, event); err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to publish session update")
	}
}
