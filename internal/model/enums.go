package model

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
)

// IsTerminal reports whether no further mutation of the session is valid.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired
}

type PlanningMode string

const (
	PlanningModeSolo          PlanningMode = "solo"
	PlanningModeCollaborative PlanningMode = "collaborative"
)

// Role identifies which half of a session a participant owns. It is resolved
// per operation by comparing the caller's id against initiator_id, never
// stored on the session itself.
type Role string

const (
	RoleInitiator Role = "initiator"
	RolePartner   Role = "partner"
)

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleInitiator {
		return RolePartner
	}
	return RoleInitiator
}
