package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rlarsen/althing/internal/allocation"
	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
	"github.com/rlarsen/althing/internal/scenario"
	"github.com/rlarsen/althing/internal/schedule"
)

// MaterializeParams selects how a template is turned into records
type MaterializeParams struct {
	// Participants is the number of role slots to fill across all clans.
	Participants int
	// AICount of the filled slots are taken by AI-played roles.
	AICount int
	// TotalMinutes rescales the phase schedule; 0 keeps template defaults.
	TotalMinutes int
}

// MaterializedRun reports what a setup run created
type MaterializedRun struct {
	RunID    string  `json:"run_id"`
	ClanIDs  []int64 `json:"clan_ids"`
	RoleIDs  []int64 `json:"role_ids"`
	PhaseIDs []int64 `json:"phase_ids"`
}

// SetupService materializes scenario templates into run records and
// resets the database between exercises.
type SetupService struct {
	log  logger.Logger
	repo repository.FullRepository
}

// NewSetupService creates a new SetupService
func NewSetupService(log logger.Logger, repo repository.FullRepository) *SetupService {
	return &SetupService{log: log, repo: repo}
}

// MaterializeRun turns a template into persisted run, clan, role, and
// phase records. All pure computation happens before the first write;
// a write failure partway surfaces as a PartialFailure naming the stage,
// and already-written records stay put for the operator to inspect or
// reset.
func (s *SetupService) MaterializeRun(ctx context.Context, tmpl *scenario.Template, params MaterializeParams) (*MaterializedRun, error) {
	if tmpl == nil {
		return nil, apperrors.Validation("no template given")
	}
	if err := tmpl.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "invalid template")
	}
	if _, err := s.repo.GetRun(ctx); err == nil {
		return nil, apperrors.StateConflict("a run already exists; reset it first")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	slots, err := allocation.Distribute(params.Participants, params.AICount, tmpl.RoleSlotCounts())
	if err != nil {
		return nil, err
	}

	durations := tmpl.DefaultDurations()
	if params.TotalMinutes > 0 {
		durations, err = schedule.Redistribute(durations, params.TotalMinutes)
		if err != nil {
			return nil, err
		}
	}

	runID := uuid.New().String()
	if err := s.repo.CreateRun(ctx, runID, tmpl.Name); err != nil {
		return nil, apperrors.PartialFailure("run", err)
	}
	result := &MaterializedRun{RunID: runID}

	for ci, clanTmpl := range tmpl.Clans {
		clanID, err := s.repo.CreateClan(ctx, models.Clan{
			RunID:          runID,
			SequenceNumber: ci,
			Name:           clanTmpl.Name,
			Description:    clanTmpl.Description,
			Motto:          clanTmpl.Motto,
			Color:          clanTmpl.Color,
			HasContingency: clanTmpl.HasContingency,
		})
		if err != nil {
			return result, apperrors.PartialFailure("clans", err)
		}
		result.ClanIDs = append(result.ClanIDs, clanID)

		for ri, slot := range slots[ci] {
			if !slot.Selected {
				continue
			}
			participantType := models.ParticipantHuman
			if slot.AI {
				participantType = models.ParticipantAI
			}
			roleID, err := s.repo.CreateRole(ctx, models.Role{
				RunID:           runID,
				ClanID:          clanID,
				SequenceNumber:  ri,
				Name:            clanTmpl.Roles[ri].Name,
				ParticipantType: participantType,
				ClaimToken:      uuid.New().String(),
			})
			if err != nil {
				return result, apperrors.PartialFailure("roles", err)
			}
			result.RoleIDs = append(result.RoleIDs, roleID)
		}
	}

	for pi, phaseTmpl := range tmpl.Phases {
		phaseID, err := s.repo.CreatePhase(ctx, runID, pi, phaseTmpl.Name, phaseTmpl.DurationMinutes)
		if err != nil {
			return result, apperrors.PartialFailure("phases", err)
		}
		if durations[pi] != phaseTmpl.DurationMinutes {
			if err := s.repo.SetPhaseDuration(ctx, phaseID, durations[pi]); err != nil {
				return result, apperrors.PartialFailure("phases", err)
			}
		}
		result.PhaseIDs = append(result.PhaseIDs, phaseID)
	}

	s.log.Info("run materialized", "run_id", runID, "scenario", tmpl.Name,
		"clans", len(result.ClanIDs), "roles", len(result.RoleIDs), "phases", len(result.PhaseIDs))
	return result, nil
}

// resetOrder clears dependents before parents; the cascade would handle
// most of it but settings has no FK and the order keeps resets exact.
var resetOrder = []string{
	"votes", "vote_results", "vote_sessions", "allegiance_votes",
	"roles", "phases", "clans", "runs", "settings",
}

// ResetRun wipes every run record, returning the database to a clean
// pre-setup state.
func (s *SetupService) ResetRun(ctx context.Context) error {
	for _, table := range resetOrder {
		if err := s.repo.ClearTable(ctx, table); err != nil {
			return apperrors.Internalf("reset %s: %v", table, err)
		}
	}
	s.log.Info("run reset")
	return nil
}
