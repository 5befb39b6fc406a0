package model

import (
	"time"
)

// PlanningSession is the shared record coordinating two participants'
// date-planning preferences and the resulting recommendation. Both
// participants write their own half concurrently; each process holds a
// possibly stale copy reconciled against the store by the watcher.
type PlanningSession struct {
	ID                           string          `db:"id" json:"id"`
	InitiatorID                  string          `db:"initiator_id" json:"initiatorId"`
	PartnerID                    string          `db:"partner_id" json:"partnerId"`
	SessionStatus                SessionStatus   `db:"session_status" json:"sessionStatus"`
	PlanningMode                 PlanningMode    `db:"planning_mode" json:"planningMode"`
	InitiatorPreferences         *Preferences    `db:"initiator_preferences" json:"initiatorPreferences,omitempty"`
	PartnerPreferences           *Preferences    `db:"partner_preferences" json:"partnerPreferences,omitempty"`
	InitiatorPreferencesComplete bool            `db:"initiator_preferences_complete" json:"initiatorPreferencesComplete"`
	PartnerPreferencesComplete   bool            `db:"partner_preferences_complete" json:"partnerPreferencesComplete"`
	BothPreferencesComplete      bool            `db:"both_preferences_complete" json:"bothPreferencesComplete"`
	AICompatibilityScore         *float64        `db:"ai_compatibility_score" json:"aiCompatibilityScore,omitempty"`
	VenueCandidates              VenueCandidates `db:"venue_candidates" json:"venueCandidates,omitempty"`
	SelectedVenueID              *string         `db:"selected_venue_id" json:"selectedVenueId,omitempty"`
	CreatedAt                    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt                    time.Time       `db:"updated_at" json:"updatedAt"`
	ExpiresAt                    time.Time       `db:"expires_at" json:"expiresAt"`
}

type CreateSessionParams struct {
	InitiatorID  string
	PartnerID    string
	PlanningMode PlanningMode
	ExpiresAt    time.Time
}

// RoleOf resolves which half of the session the given participant owns.
// The initiator id wins when a solo session stores the same id in both
// columns.
func (s *PlanningSession) RoleOf(participantID string) (Role, bool) {
	switch participantID {
	case s.InitiatorID:
		return RoleInitiator, true
	case s.PartnerID:
		return RolePartner, true
	default:
		return "", false
	}
}

// IsExpired reports whether the session is logically expired, regardless of
// the stored status.
func (s *PlanningSession) IsExpired(now time.Time) bool {
	return s.SessionStatus == SessionStatusExpired || now.After(s.ExpiresAt)
}

// PreferencesFor returns the preference record for the given role.
func (s *PlanningSession) PreferencesFor(role Role) *Preferences {
	if role == RoleInitiator {
		return s.InitiatorPreferences
	}
	return s.PartnerPreferences
}
