package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/duetdate/planner-server-go/internal/database"
	"github.com/duetdate/planner-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.PlanningSession, error)
	// FindActiveByPair returns the most recent active session for the
	// unordered participant pair, expired or not.
	FindActiveByPair(ctx context.Context, participantA, participantB string) (*model.PlanningSession, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.PlanningSession, error)
	// SetPreferences writes one role's preference record and flips that
	// role's completion flag to true. The joint flag is deliberately not
	// touched here; it is recomputed from a fresh read afterwards.
	SetPreferences(ctx context.Context, id string, role model.Role, prefs *model.Preferences) error
	SetJointComplete(ctx context.Context, id string, complete bool) error
	// SetCompletionFlags persists a repair correction of all three flags
	// without touching preference data.
	SetCompletionFlags(ctx context.Context, id string, initiator, partner, both bool) error
	// SetAnalysisResult writes the compatibility score and venue candidates
	// only if no score has landed yet. Returns false when another process
	// already claimed the write.
	SetAnalysisResult(ctx context.Context, id string, score float64, venues model.VenueCandidates) (bool, error)
	Complete(ctx context.Context, id string, venueID string) error
	Reset(ctx context.Context, id string) error
	MarkExpired(ctx context.Context, id string) error
	// ExpireActiveForPair marks every active session for the unordered pair
	// as expired, returning the number of rows affected.
	ExpireActiveForPair(ctx context.Context, participantA, participantB string) (int64, error)
	// ExpireOverdue marks active sessions past expires_at as expired. Rows
	// are retained as history; nothing is deleted.
	ExpireOverdue(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.PlanningSession, error) {
	var session model.PlanningSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM planning_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindActiveByPair(ctx context.Context, participantA, participantB string) (*model.PlanningSession, error) {
	var session model.PlanningSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM planning_sessions
		WHERE session_status = 'active'
		AND ((initiator_id = $1 AND partner_id = $2) OR (initiator_id = $2 AND partner_id = $1))
		ORDER BY created_at DESC
		LIMIT 1
	`, participantA, participantB)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.PlanningSession, error) {
	var session model.PlanningSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO planning_sessions (initiator_id, partner_id, planning_mode, session_status, expires_at)
		VALUES ($1, $2, $3, 'active', $4)
		RETURNING *
	`, params.InitiatorID, params.PartnerID, params.PlanningMode, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) SetPreferences(ctx context.Context, id string, role model.Role, prefs *model.Preferences) error {
	query := `
		UPDATE planning_sessions SET
			initiator_preferences = $2,
			initiator_preferences_complete = TRUE,
			updated_at = $3
		WHERE id = $1
	`
	if role == model.RolePartner {
		query = `
			UPDATE planning_sessions SET
				partner_preferences = $2,
				partner_preferences_complete = TRUE,
				updated_at = $3
			WHERE id = $1
		`
	}
	_, err := r.db.ExecContext(ctx, query, id, prefs, time.Now())
	return err
}

func (r *sessionRepo) SetJointComplete(ctx context.Context, id string, complete bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			both_preferences_complete = $2,
			updated_at = $3
		WHERE id = $1
	`, id, complete, time.Now())
	return err
}

func (r *sessionRepo) SetCompletionFlags(ctx context.Context, id string, initiator, partner, both bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			initiator_preferences_complete = $2,
			partner_preferences_complete = $3,
			both_preferences_complete = $4,
			updated_at = $5
		WHERE id = $1
	`, id, initiator, partner, both, time.Now())
	return err
}

func (r *sessionRepo) SetAnalysisResult(ctx context.Context, id string, score float64, venues model.VenueCandidates) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			ai_compatibility_score = $2,
			venue_candidates = $3,
			updated_at = $4
		WHERE id = $1 AND ai_compatibility_score IS NULL
	`, id, score, venues, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *sessionRepo) Complete(ctx context.Context, id string, venueID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			session_status = 'completed',
			selected_venue_id = $2,
			updated_at = $3
		WHERE id = $1 AND session_status = 'active'
	`, id, venueID, time.Now())
	return err
}

func (r *sessionRepo) Reset(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			initiator_preferences = NULL,
			partner_preferences = NULL,
			initiator_preferences_complete = FALSE,
			partner_preferences_complete = FALSE,
			both_preferences_complete = FALSE,
			ai_compatibility_score = NULL,
			venue_candidates = NULL,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *sessionRepo) MarkExpired(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			session_status = 'expired',
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *sessionRepo) ExpireActiveForPair(ctx context.Context, participantA, participantB string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			session_status = 'expired',
			updated_at = $3
		WHERE session_status = 'active'
		AND ((initiator_id = $1 AND partner_id = $2) OR (initiator_id = $2 AND partner_id = $1))
	`, participantA, participantB, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) ExpireOverdue(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE planning_sessions SET
			session_status = 'expired',
			updated_at = NOW()
		WHERE session_status = 'active' AND expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
