package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/repository"
)

// repairCompletionState corrects completion-flag drift against the actual
// presence of preference data. Writes happen in two phases without a
// compare-and-swap, so a flag can land without its data or a joint flag can
// go stale under a concurrent partner update; every read passes through here
// so callers never observe an impossible combination.
//
// Returns true when any flag was changed.
func repairCompletionState(s *model.PlanningSession) bool {
	initiatorDataPresent := s.InitiatorPreferences != nil
	partnerDataPresent := s.PartnerPreferences != nil

	changed := false

	if s.InitiatorPreferencesComplete && !initiatorDataPresent {
		s.InitiatorPreferencesComplete = false
		changed = true
	}
	if s.PartnerPreferencesComplete && !partnerDataPresent {
		s.PartnerPreferencesComplete = false
		changed = true
	}

	both := s.InitiatorPreferencesComplete && s.PartnerPreferencesComplete &&
		initiatorDataPresent && partnerDataPresent
	if s.BothPreferencesComplete != both {
		s.BothPreferencesComplete = both
		changed = true
	}

	return changed
}

// repairSession applies repairCompletionState and persists any correction
// before the session is handed to the caller. A failed persistence is logged
// and retried implicitly on the next read; the in-memory copy returned to
// the caller is always consistent.
func repairSession(ctx context.Context, repo repository.SessionRepository, s *model.PlanningSession) {
	if !repairCompletionState(s) {
		return
	}

	log.Warn().
		Str("sessionId", s.ID).
		Bool("initiatorComplete", s.InitiatorPreferencesComplete).
		Bool("partnerComplete", s.PartnerPreferencesComplete).
		Bool("bothComplete", s.BothPreferencesComplete).
		Msg("repaired inconsistent completion flags")

	if err := repo.SetCompletionFlags(ctx, s.ID,
		s.InitiatorPreferencesComplete,
		s.PartnerPreferencesComplete,
		s.BothPreferencesComplete,
	); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to persist flag repair")
	}
}
