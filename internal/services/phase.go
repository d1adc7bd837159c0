package services

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
	"github.com/rlarsen/althing/internal/schedule"
)

// PhaseService drives the phase state machine. Every transition is a
// conditional write; a stale pre-state surfaces as a StateConflict and
// is never retried here.
type PhaseService struct {
	log         logger.Logger
	repo        repository.FullRepository
	broadcaster Broadcaster

	// Now is the clock; tests swap it for a fixed one.
	Now func() time.Time
}

// NewPhaseService creates a new PhaseService
func NewPhaseService(log logger.Logger, repo repository.FullRepository) *PhaseService {
	return &PhaseService{log: log, repo: repo, Now: time.Now}
}

// SetBroadcaster wires up the change feed after construction
func (s *PhaseService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *PhaseService) broadcast(msgType string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(models.WSMessage{Type: msgType, Payload: payload})
	}
}

// Start activates a pending phase and moves the run's current-phase
// pointer to it. Fails if the phase is not pending or a sibling phase is
// already active or paused.
func (s *PhaseService) Start(ctx context.Context, phaseID int64) (*models.Phase, error) {
	err := s.repo.StartPhase(ctx, phaseID, s.Now())
	if errors.Is(err, repository.ErrConflict) {
		return nil, s.startConflict(ctx, phaseID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("phase %d not found", phaseID)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.repo.SetCurrentPhase(ctx, phase.RunID, phaseID); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.log.Info("phase started", "phase_id", phaseID, "name", phase.Name)
	s.broadcast("phase_status", phase)
	return phase, nil
}

// startConflict re-reads state to report why a start was rejected
func (s *PhaseService) startConflict(ctx context.Context, phaseID int64) error {
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFoundf("phase %d not found", phaseID)
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	if phase.Status != models.PhasePending {
		return apperrors.StateConflictf("phase %q is %s, not pending", phase.Name, phase.Status)
	}
	return apperrors.StateConflict("another phase is already running")
}

// Pause freezes an active phase's countdown
func (s *PhaseService) Pause(ctx context.Context, phaseID int64) (*models.Phase, error) {
	if err := s.repo.PausePhase(ctx, phaseID, s.Now()); err != nil {
		return nil, s.transitionError(ctx, phaseID, err, "pause")
	}
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("phase paused", "phase_id", phaseID)
	s.broadcast("phase_status", phase)
	return phase, nil
}

// Resume restarts a paused phase's countdown. The start timestamp is
// shifted forward by the paused interval so the remaining time picks up
// exactly where the pause left it.
func (s *PhaseService) Resume(ctx context.Context, phaseID int64) (*models.Phase, error) {
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("phase %d not found", phaseID)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if phase.Status != models.PhasePaused || phase.StartedAt == nil || phase.PausedAt == nil {
		return nil, apperrors.StateConflictf("phase %q is %s, not paused", phase.Name, phase.Status)
	}

	rebased := phase.StartedAt.Add(s.Now().Sub(*phase.PausedAt))
	if err := s.repo.ResumePhase(ctx, phaseID, rebased); err != nil {
		return nil, s.transitionError(ctx, phaseID, err, "resume")
	}

	phase, err = s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("phase resumed", "phase_id", phaseID)
	s.broadcast("phase_status", phase)
	return phase, nil
}

// Extend adds minutes to a running or paused phase
func (s *PhaseService) Extend(ctx context.Context, phaseID int64, minutes int) (*models.Phase, error) {
	if minutes <= 0 {
		return nil, apperrors.Validation("extension must be positive")
	}
	if err := s.repo.ExtendPhase(ctx, phaseID, minutes); err != nil {
		return nil, s.transitionError(ctx, phaseID, err, "extend")
	}
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("phase extended", "phase_id", phaseID, "minutes", minutes)
	s.broadcast("phase_status", phase)
	return phase, nil
}

// End completes an active or paused phase
func (s *PhaseService) End(ctx context.Context, phaseID int64) (*models.Phase, error) {
	if err := s.repo.CompletePhase(ctx, phaseID, s.Now()); err != nil {
		return nil, s.transitionError(ctx, phaseID, err, "end")
	}
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("phase completed", "phase_id", phaseID)
	s.broadcast("phase_status", phase)
	return phase, nil
}

// Skip terminates a phase that will not be played. Legal from pending,
// active, or paused.
func (s *PhaseService) Skip(ctx context.Context, phaseID int64) (*models.Phase, error) {
	if err := s.repo.SkipPhase(ctx, phaseID, s.Now()); err != nil {
		return nil, s.transitionError(ctx, phaseID, err, "skip")
	}
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("phase skipped", "phase_id", phaseID)
	s.broadcast("phase_status", phase)
	return phase, nil
}

func (s *PhaseService) transitionError(ctx context.Context, phaseID int64, err error, verb string) error {
	if !errors.Is(err, repository.ErrConflict) {
		return apperrors.Internal(err)
	}
	phase, getErr := s.repo.GetPhase(ctx, phaseID)
	if errors.Is(getErr, repository.ErrNotFound) {
		return apperrors.NotFoundf("phase %d not found", phaseID)
	}
	if getErr != nil {
		return apperrors.Internal(getErr)
	}
	return apperrors.StateConflictf("cannot %s phase %q while %s", verb, phase.Name, phase.Status)
}

// Remaining derives the countdown for a phase. Active phases may run
// negative; overtime is reported, never acted on.
func (s *PhaseService) Remaining(ctx context.Context, phaseID int64) (*Remaining, error) {
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("phase %d not found", phaseID)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	total := phase.EffectiveDurationSeconds()
	switch phase.Status {
	case models.PhasePending:
		return &Remaining{Seconds: total}, nil
	case models.PhaseActive:
		elapsed := int(s.Now().Sub(*phase.StartedAt).Seconds())
		left := total - elapsed
		return &Remaining{Seconds: left, Running: true, Overtime: left <= 0}, nil
	case models.PhasePaused:
		elapsed := int(phase.PausedAt.Sub(*phase.StartedAt).Seconds())
		left := total - elapsed
		return &Remaining{Seconds: left, Overtime: left <= 0}, nil
	default:
		return &Remaining{}, nil
	}
}

// Redistribute rescales the remaining pending phases' durations to the
// given total, keeping their default proportions.
func (s *PhaseService) Redistribute(ctx context.Context, totalMinutes int) ([]models.Phase, error) {
	run, err := s.repo.GetRun(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	phases, err := s.repo.ListPhases(ctx, run.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var pending []models.Phase
	var defaults []int
	for _, p := range phases {
		if p.Status == models.PhasePending {
			pending = append(pending, p)
			defaults = append(defaults, p.DefaultDurationMinutes)
		}
	}
	if len(pending) == 0 {
		return nil, apperrors.StateConflict("no pending phases left to redistribute")
	}

	durations, err := schedule.Redistribute(defaults, totalMinutes)
	if err != nil {
		return nil, err
	}

	for i, p := range pending {
		if err := s.repo.SetPhaseDuration(ctx, p.ID, durations[i]); err != nil {
			return nil, apperrors.Internal(err)
		}
	}

	updated, err := s.repo.ListPhases(ctx, run.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("durations redistributed", "total_minutes", totalMinutes, "phases", len(pending))
	s.broadcast("schedule_changed", updated)
	return updated, nil
}
